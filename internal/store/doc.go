// Package store persists the version history of every crawled project on a
// storage.Backend. Each project owns one sharded artifact holding its ordered
// version list; a global index summarizes all projects and is kept in memory.
// The index is a cache: it can always be rebuilt from the per-project
// artifacts.
package store
