package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Key wrapping uses ECIES over X25519: a fresh ephemeral key per wrap
// operation provides forward secrecy, ECDH agreement feeds HKDF-SHA256, and
// the derived key seals the content key with AES-GCM.
//
// Wire format, base64-encoded: [ephemeral pubkey (32)][iv (12)][ciphertext].

const wrapKDFInfo = "medicrypt/key-wrap/v1"

// WrapKeyFor encrypts a content key for a recipient's encryption public key.
// The serialized form is checked against the registry's wrapped-key budget.
func WrapKeyFor(key ContentKey, recipient EncryptionPubkey) (string, error) {
	var ephemeralPriv [32]byte
	if _, err := io.ReadFull(rand.Reader, ephemeralPriv[:]); err != nil {
		return "", fmt.Errorf("failed to generate ephemeral key: %w", err)
	}

	ephemeralPub, err := curve25519.X25519(ephemeralPriv[:], curve25519.Basepoint)
	if err != nil {
		return "", fmt.Errorf("failed to derive ephemeral public key: %w", err)
	}

	shared, err := curve25519.X25519(ephemeralPriv[:], recipient[:])
	if err != nil {
		return "", fmt.Errorf("failed to derive shared secret: %w", err)
	}

	wrapKey, err := deriveWrapKey(shared)
	if err != nil {
		return "", err
	}

	aead, err := newGCM(wrapKey)
	if err != nil {
		return "", err
	}

	iv := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate IV: %w", err)
	}

	sealed := aead.Seal(nil, iv, key[:], nil)

	out := make([]byte, 0, len(ephemeralPub)+len(iv)+len(sealed))
	out = append(out, ephemeralPub...)
	out = append(out, iv...)
	out = append(out, sealed...)

	encoded := base64.StdEncoding.EncodeToString(out)
	if err := interfaces.CheckFieldBudget("wrapped_key", encoded, interfaces.MaxWrappedKeyLen); err != nil {
		return "", err
	}
	return encoded, nil
}

// UnwrapKey decrypts a wrapped content key with the recipient's private key.
// Only the key holder can call this; the private key never reaches the
// service. All failures collapse into ErrUnwrapFailed so a caller cannot
// distinguish wrong-key from corrupted input.
func UnwrapKey(wrapped string, recipientPriv EncryptionPrivkey) (ContentKey, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}
	if len(raw) < 32+gcmNonceSize+1 {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}

	ephemeralPub := raw[:32]
	iv := raw[32 : 32+gcmNonceSize]
	sealed := raw[32+gcmNonceSize:]

	shared, err := curve25519.X25519(recipientPriv[:], ephemeralPub)
	if err != nil {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}

	wrapKey, err := deriveWrapKey(shared)
	if err != nil {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}

	aead, err := newGCM(wrapKey)
	if err != nil {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}

	keyBytes, err := aead.Open(nil, iv, sealed, nil)
	if err != nil || len(keyBytes) != 32 {
		return ContentKey{}, interfaces.ErrUnwrapFailed
	}

	var key ContentKey
	copy(key[:], keyBytes)
	return key, nil
}

// RewrapKeyFor is the owner-side sharing step: unwrap the content key with
// the owner's private key, then wrap it for the requester. The plaintext key
// exists only transiently in memory on the owner's device.
func RewrapKeyFor(ownerWrapped string, ownerPriv EncryptionPrivkey, requester EncryptionPubkey) (string, error) {
	key, err := UnwrapKey(ownerWrapped, ownerPriv)
	if err != nil {
		return "", err
	}
	return WrapKeyFor(key, requester)
}

func deriveWrapKey(shared []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, shared, nil, []byte(wrapKDFInfo))
	key := make([]byte, 32)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive wrap key: %w", err)
	}
	return key, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
