package cryptoutils

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/curve25519"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// ContentKey is a 256-bit symmetric key encrypting exactly one record's blob.
// Keys are never reused across records.
type ContentKey [32]byte

// EncryptionPubkey is a 32-byte X25519 public key used as a key-wrap target.
type EncryptionPubkey [32]byte

// EncryptionPrivkey is the corresponding X25519 private scalar. It never
// leaves the key holder's device.
type EncryptionPrivkey [32]byte

// IdentityKeypair bundles the two keypairs a participant holds: an ed25519
// signing pair that is the participant's identity, and an X25519 pair that
// receives wrapped content keys.
type IdentityKeypair struct {
	Identity    interfaces.Identity
	SigningKey  ed25519.PrivateKey
	EncryptPub  EncryptionPubkey
	EncryptPriv EncryptionPrivkey
}

// GenerateIdentityKeypair creates a fresh signing and encryption keypair.
func GenerateIdentityKeypair() (*IdentityKeypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}

	var encPriv EncryptionPrivkey
	if _, err := io.ReadFull(rand.Reader, encPriv[:]); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}

	encPubBytes, err := curve25519.X25519(encPriv[:], curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive encryption public key: %w", err)
	}

	identity, err := interfaces.NewIdentityFromBytes(pub)
	if err != nil {
		return nil, err
	}

	kp := &IdentityKeypair{
		Identity:   identity,
		SigningKey: priv,
	}
	copy(kp.EncryptPub[:], encPubBytes)
	kp.EncryptPriv = encPriv
	return kp, nil
}

// NewEncryptionPubkeyFromString parses a base58-encoded X25519 public key.
func NewEncryptionPubkeyFromString(source string) (EncryptionPubkey, error) {
	raw, err := base58.Decode(source)
	if err != nil {
		return EncryptionPubkey{}, fmt.Errorf("%w: invalid base58 encryption key: %v", interfaces.ErrMalformedInput, err)
	}
	if len(raw) != 32 {
		return EncryptionPubkey{}, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", interfaces.ErrMalformedInput, len(raw))
	}

	var pub EncryptionPubkey
	copy(pub[:], raw)
	return pub, nil
}

// String returns the base58 representation of the public key.
func (pub EncryptionPubkey) String() string {
	return base58.Encode(pub[:])
}

// NewEncryptionPrivkeyFromString parses a base58-encoded X25519 private key.
func NewEncryptionPrivkeyFromString(source string) (EncryptionPrivkey, error) {
	raw, err := base58.Decode(source)
	if err != nil {
		return EncryptionPrivkey{}, fmt.Errorf("%w: invalid base58 encryption key: %v", interfaces.ErrMalformedInput, err)
	}
	if len(raw) != 32 {
		return EncryptionPrivkey{}, fmt.Errorf("%w: encryption key must be 32 bytes, got %d", interfaces.ErrMalformedInput, len(raw))
	}

	var priv EncryptionPrivkey
	copy(priv[:], raw)
	return priv, nil
}

// String returns the base58 representation of the private key.
func (priv EncryptionPrivkey) String() string {
	return base58.Encode(priv[:])
}

// Pubkey derives the public key for this private scalar.
func (priv EncryptionPrivkey) Pubkey() (EncryptionPubkey, error) {
	raw, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return EncryptionPubkey{}, fmt.Errorf("failed to derive encryption public key: %w", err)
	}

	var pub EncryptionPubkey
	copy(pub[:], raw)
	return pub, nil
}

// SignMessage signs raw message bytes with the identity's signing key.
// The signature is base58-encoded for transport, matching wallet conventions.
func (kp *IdentityKeypair) SignMessage(message []byte) string {
	return base58.Encode(ed25519.Sign(kp.SigningKey, message))
}
