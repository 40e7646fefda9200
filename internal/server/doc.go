// Package server hosts the Fiber HTTP service: the request-id and recover
// middleware chain, the catch-all route that hands application requests to
// the cache gatekeeper, and the shared upstream http.Client used to reach the
// origin. Diagnostics routes under /-/ live in the routes subpackage.
package server
