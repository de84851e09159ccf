// Package sqlite provides the SQLite-backed catalog used by the cache index,
// the query engine and the statistics flusher. Migrations are embedded and
// applied on Open.
package sqlite
