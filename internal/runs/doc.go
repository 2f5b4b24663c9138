// Package runs defines the crawl-run diagnostics model and the repository
// interface that persists it. Implementations live in other packages; this
// package must not import database drivers or concrete clients.
package runs
