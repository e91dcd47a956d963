package interfaces

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// Identity is a 32-byte ed25519 public key identifying an owner or requester.
// Identities are self-certifying: any valid public key is an identity, no
// registration required.
type Identity [32]byte

// NewIdentityFromBytes creates an identity from a raw 32-byte public key.
func NewIdentityFromBytes(source []byte) (Identity, error) {
	if len(source) != 32 {
		return Identity{}, fmt.Errorf("%w: identity must be 32 bytes, got %d", ErrMalformedInput, len(source))
	}

	var id Identity
	copy(id[:], source)
	return id, nil
}

// NewIdentityFromString parses a base58-encoded public key, the encoding
// wallets use on the wire.
func NewIdentityFromString(source string) (Identity, error) {
	raw, err := base58.Decode(source)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: invalid base58 identity: %v", ErrMalformedInput, err)
	}
	return NewIdentityFromBytes(raw)
}

// String returns the base58 representation of the identity.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// Bytes returns the raw 32-byte public key.
func (id Identity) Bytes() []byte {
	return id[:]
}

// Equal compares two identities.
func (id Identity) Equal(other Identity) bool {
	return id == other
}

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// MarshalText implements encoding.TextMarshaler using base58.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := NewIdentityFromString(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// EntityAddress is the 32-byte derived registry slot of a Record or Grant.
// Record addresses are derived from (owner, contentAddress), grant addresses
// from (recordAddress, requester), so re-submitting the same logical entity
// always lands on the same slot.
type EntityAddress [32]byte

// NewEntityAddressFromHex parses a 64-character hex string into an address.
func NewEntityAddressFromHex(source string) (EntityAddress, error) {
	clean := strings.TrimPrefix(source, "0x")
	if len(clean) != 64 {
		return EntityAddress{}, errors.New("invalid entity address: hex string must be 64 characters")
	}

	raw, err := hex.DecodeString(clean)
	if err != nil {
		return EntityAddress{}, fmt.Errorf("invalid entity address hex: %w", err)
	}

	var addr EntityAddress
	copy(addr[:], raw)
	return addr, nil
}

// String returns the hex representation of the address.
func (addr EntityAddress) String() string {
	return hex.EncodeToString(addr[:])
}

// Bytes returns the raw 32-byte address.
func (addr EntityAddress) Bytes() []byte {
	return addr[:]
}

// Equal compares two addresses.
func (addr EntityAddress) Equal(other EntityAddress) bool {
	return bytes.Equal(addr[:], other[:])
}

// IsZero reports whether the address is unset.
func (addr EntityAddress) IsZero() bool {
	return addr == EntityAddress{}
}

// MarshalText implements encoding.TextMarshaler using hex.
func (addr EntityAddress) MarshalText() ([]byte, error) {
	return []byte(addr.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (addr *EntityAddress) UnmarshalText(text []byte) error {
	parsed, err := NewEntityAddressFromHex(string(text))
	if err != nil {
		return err
	}
	*addr = parsed
	return nil
}

// Role is the closed set of caller roles carried in a session credential.
// Query dispatch switches on the role variant rather than probing properties.
type Role string

const (
	// RoleOwner registers, deactivates, grants and revokes.
	RoleOwner Role = "owner"
	// RoleRequester holds grants and reads shared records.
	RoleRequester Role = "requester"
	// RoleAuditor reads registry-wide projections without decrypt capability.
	RoleAuditor Role = "auditor"
)

// ParseRole validates a role string against the closed variant set.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleOwner, RoleRequester, RoleAuditor:
		return Role(s), nil
	default:
		return "", fmt.Errorf("%w: unknown role %q", ErrMalformedInput, s)
	}
}

// Registry storage is statically sized, so string fields are bounded.
// Budgets match the on-disk account layout: oversized fields fail fast
// client-side instead of being attempted against the registry.
const (
	MaxContentAddressLen = 64
	MaxContentDigestLen  = 64
	MaxFileNameLen       = 100
	MaxWrappedKeyLen     = 256
)

// CheckFieldBudget validates a registry string field against its byte budget.
func CheckFieldBudget(field, value string, max int) error {
	if len(value) > max {
		return fmt.Errorf("%w: %s is %d bytes, budget is %d", ErrFieldTooLong, field, len(value), max)
	}
	return nil
}
