// Package vault provides the transactional store behind the settlement
// engine. Accounts, the pending queue and the settlement ledger are one
// consistency domain: every mutation runs inside a single exclusive Update,
// which either commits all of its changes or none of them.
//
// Two implementations exist, mirroring each other's semantics:
//   - MemoryStore: in-process, clone-on-update. Used in tests and
//     single-node deployments.
//   - PostgresStore: durable, one database transaction per Update,
//     serialised by a PostgreSQL advisory lock.
package vault

import "context"

// Store is the single transaction boundary over the three collections.
type Store interface {
	// View runs fn against a read-only snapshot of the state.
	// fn must not retain or mutate the snapshot.
	View(ctx context.Context, fn func(*State) error) error

	// Update runs fn against a private copy of the state and commits the
	// copy atomically if fn returns nil. Any error from fn discards every
	// mutation fn made — the committed state reads as if nothing happened.
	// Updates are mutually exclusive; each one is the settlement critical
	// section required for at-most-once promotion.
	Update(ctx context.Context, fn func(*State) error) error
}
