// Package storage persists the publish audit trail.
//
// Drivers:
//   - "file": JSON Lines file, dependency-free
//   - "sqlite": SQLite database (modernc.org/sqlite, pure Go)
//
// Storage is optional; Open returns (nil, nil) when disabled.
package storage
