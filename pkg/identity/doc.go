// Package identity owns the durable user-and-group model that SSO logins
// are reconciled against.
//
// # Overview
//
// The package exposes a Store interface with find-or-create style
// operations over users, groups, and group membership, plus three
// backends:
//
//   - PostgresStore: production backend on lib/pq with an LRU cache for
//     group name lookups
//   - SQLiteStore: single-node deployments and local development
//   - MemoryStore: in-process backend for tests and the "memory" store type
//
// Lookups return (nil, nil) when no row matches; callers never branch on
// driver-specific sentinel errors. The single exception is CreateUser,
// which reports a username collision as ErrDuplicateUser so the
// authentication engine can retry its lookup after losing a create race.
//
// # Related Packages
//
//   - pkg/shibauth: the reconciliation engine driving this store
//   - pkg/session: sessions persisted alongside the identity tables
package identity
