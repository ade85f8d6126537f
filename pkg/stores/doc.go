// Package stores provides the SQLite persistence layer for stardrive: cache
// entries, content-addressed objects, remote input metadata and run history.
// The schema is managed with embedded golang-migrate migrations.
package stores
