// Package server builds the Fiber application shared by every endpoint:
// panic recovery, CORS for browser clients, a per-request X-Request-ID with
// structured access logging, and the {"error": code} error envelope. Route
// registration lives in the routes subpackage so handlers can depend on the
// coordinator and query engine without this package knowing about them.
package server
