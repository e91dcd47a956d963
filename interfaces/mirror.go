package interfaces

import "context"

// SharedRecord pairs a record projection with the grant that makes it
// visible to a requester.
type SharedRecord struct {
	Record Record `json:"record"`
	Grant  Grant  `json:"grant"`
}

// MirrorStore is the query-optimized, eventually-consistent copy of registry
// state. Rows are derived data keyed by entity address and version; nothing
// reads them back as a source of truth. Upserts must be idempotent: applying
// a version at or below the stored row's version is a no-op.
type MirrorStore interface {
	// UpsertRecord writes a record projection, keyed by address.
	UpsertRecord(ctx context.Context, record Record) error

	// UpsertGrant writes a grant projection, keyed by address.
	UpsertGrant(ctx context.Context, grant Grant) error

	// Cursor returns the sequence number of the last durably applied event.
	Cursor(ctx context.Context) (uint64, error)

	// SetCursor advances the durable event cursor.
	SetCursor(ctx context.Context, seq uint64) error

	// ListOwnedActiveRecords returns all active records owned by owner.
	ListOwnedActiveRecords(ctx context.Context, owner Identity) ([]Record, error)

	// ListGrantedActiveRecords returns all active grants held by requester,
	// joined with their records. Grants on deactivated records remain
	// listed; only revocation removes them.
	ListGrantedActiveRecords(ctx context.Context, requester Identity) ([]SharedRecord, error)

	// ListAllRecords returns every record projection. Auditor queries only.
	ListAllRecords(ctx context.Context) ([]Record, error)
}
