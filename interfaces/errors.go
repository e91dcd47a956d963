package interfaces

import "errors"

// Authentication errors. Deterministic rejections, never retried.
var (
	// ErrInvalidSignature is returned when signature verification fails.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrStaleChallenge is returned when the challenge message's embedded
	// timestamp falls outside the accepted freshness window.
	ErrStaleChallenge = errors.New("stale challenge message")

	// ErrMalformedInput is returned for undecodable public keys, signatures,
	// messages or role strings.
	ErrMalformedInput = errors.New("malformed input")
)

// Authorization errors.
var (
	// ErrUnauthorizedOwner is returned when a mutation's caller does not
	// match the entity's owner.
	ErrUnauthorizedOwner = errors.New("caller is not the record owner")
)

// State errors. The entity exists but the transition is not legal from its
// current state.
var (
	// ErrDuplicateRecord is returned when a record already exists at the
	// derived (owner, contentAddress) slot.
	ErrDuplicateRecord = errors.New("record already registered")

	// ErrAlreadyInactive is returned when deactivating a record twice.
	ErrAlreadyInactive = errors.New("record already deactivated")

	// ErrRecordNotActive is returned when granting access on a deactivated
	// record.
	ErrRecordNotActive = errors.New("record is not active")

	// ErrGrantNotActive is returned when revoking a grant that is not active.
	ErrGrantNotActive = errors.New("grant is not active")

	// ErrRecordNotFound is returned when no record exists at an address.
	ErrRecordNotFound = errors.New("record not found")

	// ErrGrantNotFound is returned when no grant exists for a
	// (record, requester) pair.
	ErrGrantNotFound = errors.New("grant not found")
)

// Validation errors.
var (
	// ErrFieldTooLong is returned when a string field exceeds the registry's
	// fixed storage budget.
	ErrFieldTooLong = errors.New("field exceeds registry size budget")
)

// Crypto and integrity errors. Messages stay generic so callers cannot
// distinguish wrong-key from corrupted-ciphertext.
var (
	// ErrUnwrapFailed is returned when a wrapped key cannot be unwrapped.
	ErrUnwrapFailed = errors.New("key unwrap failed")

	// ErrDigestMismatch is returned when retrieved ciphertext does not match
	// its registered digest. The content must not be decrypted.
	ErrDigestMismatch = errors.New("content digest mismatch")
)

// Infrastructure errors. Retried with bounded exponential backoff at the
// call site that issued the network request.
var (
	// ErrContentNotFound is returned when a blob store has no content at the
	// given address.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendUnavailable is returned when a blob store or mirror store is
	// unreachable or timed out.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
