// Package cache defines the named cache storage the gatekeeper populates on
// activation and reads on every fetch. A Storage holds any number of named
// Caches; each Cache maps a request Key (path plus raw query) to a stored
// response (status, headers, body). Two backends are provided: a directory
// per cache on local disk (temp file + rename writes) and a single SQLite
// database. Batch writes are all-or-nothing in both.
package cache
