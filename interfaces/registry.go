package interfaces

import "context"

// Record is one encrypted blob's authorization anchor. All fields except
// Active are immutable after registration; Active transitions one-way from
// true to false.
type Record struct {
	// Address is the derived registry slot, keyed by (owner, contentAddress).
	Address EntityAddress `json:"address"`

	// Owner is the registering identity. Immutable.
	Owner Identity `json:"owner"`

	// ContentAddress is the opaque blob store identifier for the ciphertext.
	ContentAddress string `json:"content_address"`

	// ContentDigest is the SHA-256 hex digest of the ciphertext, verifiable
	// by any party without the content key.
	ContentDigest string `json:"content_digest"`

	// FileName is a display name for the blob, opaque to the service.
	FileName string `json:"file_name"`

	// OwnerWrappedKey is the symmetric content key encrypted for the owner.
	OwnerWrappedKey string `json:"owner_wrapped_key"`

	// Active is false once the owner deactivates the record. Inactive
	// records accept no new grants; existing grants are unaffected.
	Active bool `json:"active"`

	// CreatedAt is the registry-assigned unix timestamp of registration.
	CreatedAt int64 `json:"created_at"`

	// Version increments on every registry write to this entity. The mirror
	// uses it to keep re-applied events idempotent.
	Version uint64 `json:"version"`
}

// Grant is one requester's capability to decrypt one record. At most one
// live grant exists per (record, requester) pair; re-granting updates the
// wrapped key in place rather than creating a duplicate.
type Grant struct {
	// Address is the derived registry slot, keyed by (record, requester).
	Address EntityAddress `json:"address"`

	// RecordAddress references the granted record.
	RecordAddress EntityAddress `json:"record_address"`

	// Requester is the identity receiving decrypt capability.
	Requester Identity `json:"requester"`

	// Granter equals the record's owner at grant time. Immutable.
	Granter Identity `json:"granter"`

	// RequesterWrappedKey is the content key re-encrypted for the requester.
	// Rotated on re-grant.
	RequesterWrappedKey string `json:"requester_wrapped_key"`

	// Active is false after revocation. Readers must re-check Active before
	// decrypting, even with a cached wrapped key.
	Active bool `json:"active"`

	// GrantedAt is the unix timestamp of the most recent grant transition.
	GrantedAt int64 `json:"granted_at"`

	// RevokedAt is the unix timestamp of the most recent revocation, zero if
	// never revoked.
	RevokedAt int64 `json:"revoked_at,omitempty"`

	// Version increments on every registry write to this entity.
	Version uint64 `json:"version"`
}

// EventKind discriminates registry events.
type EventKind string

const (
	// EventRecordRegistered is emitted on successful record registration.
	EventRecordRegistered EventKind = "record_registered"
	// EventRecordDeactivated is emitted when an owner deactivates a record.
	EventRecordDeactivated EventKind = "record_deactivated"
	// EventAccessGranted is emitted on grant and re-grant.
	EventAccessGranted EventKind = "access_granted"
	// EventAccessRevoked is emitted on revocation.
	EventAccessRevoked EventKind = "access_revoked"
)

// Event is one confirmed registry state transition. Events are append-only
// and ordered per entity by Seq; consumers must tolerate at-least-once
// delivery.
type Event struct {
	// Seq is the registry-assigned monotonic sequence number.
	Seq uint64 `json:"seq"`

	// Kind discriminates the transition.
	Kind EventKind `json:"kind"`

	// Address is the affected entity's registry slot.
	Address EntityAddress `json:"address"`

	// Record carries the full record state after the transition, set for
	// record events.
	Record *Record `json:"record,omitempty"`

	// Grant carries the full grant state after the transition, set for
	// grant events.
	Grant *Grant `json:"grant,omitempty"`

	// Timestamp is the registry-assigned unix timestamp of confirmation.
	Timestamp int64 `json:"timestamp"`
}

// RegisterParams holds the caller-supplied fields of a record registration.
type RegisterParams struct {
	ContentAddress  string `json:"content_address"`
	ContentDigest   string `json:"content_digest"`
	FileName        string `json:"file_name"`
	OwnerWrappedKey string `json:"owner_wrapped_key"`
}

// Validate checks all string fields against their registry budgets.
func (p RegisterParams) Validate() error {
	if p.ContentAddress == "" {
		return ErrMalformedInput
	}
	if err := CheckFieldBudget("content_address", p.ContentAddress, MaxContentAddressLen); err != nil {
		return err
	}
	if err := CheckFieldBudget("content_digest", p.ContentDigest, MaxContentDigestLen); err != nil {
		return err
	}
	if err := CheckFieldBudget("file_name", p.FileName, MaxFileNameLen); err != nil {
		return err
	}
	return CheckFieldBudget("owner_wrapped_key", p.OwnerWrappedKey, MaxWrappedKeyLen)
}

// AuthorizationRegistry is the append-only, owner-checked system of record
// for who may decrypt what. Two concurrent conflicting mutations on the same
// entity resolve deterministically: one succeeds, one is rejected.
type AuthorizationRegistry interface {
	// RegisterRecord creates a record at the slot derived from
	// (owner, params.ContentAddress). Fails with ErrDuplicateRecord if the
	// slot is occupied and ErrFieldTooLong on budget violations.
	RegisterRecord(ctx context.Context, owner Identity, params RegisterParams) (*Record, error)

	// DeactivateRecord performs the one-way active->inactive transition.
	// Fails with ErrUnauthorizedOwner unless caller is the owner, and with
	// ErrAlreadyInactive on a second call.
	DeactivateRecord(ctx context.Context, caller Identity, record EntityAddress) (*Record, error)

	// GrantAccess creates or updates the grant for (record, requester).
	// A repeated call rotates the wrapped key and resets the grant to
	// active. Fails with ErrUnauthorizedOwner, ErrRecordNotActive or
	// ErrFieldTooLong.
	GrantAccess(ctx context.Context, caller Identity, record EntityAddress, requester Identity, wrappedKey string) (*Grant, error)

	// RevokeAccess deactivates the grant for (record, requester). Owner
	// only; requester-initiated self-revocation is not supported. Fails
	// with ErrUnauthorizedOwner, ErrGrantNotFound or ErrGrantNotActive.
	RevokeAccess(ctx context.Context, caller Identity, record EntityAddress, requester Identity) (*Grant, error)

	// GetRecord reads a record by address.
	GetRecord(ctx context.Context, record EntityAddress) (*Record, error)

	// GetGrant reads the grant for a (record, requester) pair.
	GetGrant(ctx context.Context, record EntityAddress, requester Identity) (*Grant, error)

	// ScanRecords invokes fn for every record. Used by mirror resync.
	ScanRecords(ctx context.Context, fn func(*Record) error) error

	// ScanGrants invokes fn for every grant. Used by mirror resync.
	ScanGrants(ctx context.Context, fn func(*Grant) error) error

	// Events returns a channel of confirmed events with Seq > afterSeq,
	// ordered by sequence. The channel is closed when ctx is done.
	Events(ctx context.Context, afterSeq uint64) (<-chan Event, error)

	// LastSeq returns the sequence number of the most recent event.
	LastSeq(ctx context.Context) (uint64, error)
}
