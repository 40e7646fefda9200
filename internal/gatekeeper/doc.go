// Package gatekeeper keeps exactly one cache generation of the packaged app's
// assets alive and answers requests from it.
//
// Two lifecycle reactions are exposed. Activate wipes existing caches, opens
// the cache under the configured name and fills it with every path of the
// Resource Table, all or nothing. Fetch answers a request from that cache when
// it can and otherwise forwards the request to the origin with credentials,
// returning whatever the origin produced. Activate holds off Fetch while it
// runs.
package gatekeeper
