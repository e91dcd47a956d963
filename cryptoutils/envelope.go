package cryptoutils

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// gcmNonceSize is the standard 12-byte GCM nonce length.
const gcmNonceSize = 12

// EncryptedBlob is the result of sealing a plaintext blob under a content
// key. Digest is computed over the stored frame (nonce followed by
// ciphertext), so any party holding the blob can verify integrity without
// the key.
type EncryptedBlob struct {
	Nonce      []byte
	Ciphertext []byte
	Digest     string
}

// GenerateContentKey returns a fresh 256-bit symmetric key. Each key
// encrypts exactly one record's blob.
func GenerateContentKey() (ContentKey, error) {
	var key ContentKey
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return ContentKey{}, fmt.Errorf("failed to generate content key: %w", err)
	}
	return key, nil
}

// EncryptBlob seals plaintext with AES-256-GCM under the content key. The
// nonce is always drawn from the CSPRNG inside this function; callers cannot
// supply one, which structurally prevents (key, nonce) reuse.
func EncryptBlob(key ContentKey, plaintext []byte) (*EncryptedBlob, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcmNonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	blob := &EncryptedBlob{
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}
	blob.Digest = ComputeDigest(blob.Bytes())
	return blob, nil
}

// DecryptBlob opens a sealed blob. Any tampering with the ciphertext makes
// decryption fail rather than silently returning wrong plaintext.
func DecryptBlob(key ContentKey, nonce, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt blob: %w", err)
	}
	return plaintext, nil
}

// Bytes returns the wire framing of the sealed blob: nonce followed by
// ciphertext. This is the exact byte sequence uploaded to the blob store.
func (b *EncryptedBlob) Bytes() []byte {
	out := make([]byte, len(b.Nonce)+len(b.Ciphertext))
	copy(out, b.Nonce)
	copy(out[len(b.Nonce):], b.Ciphertext)
	return out
}

// ParseEncryptedBlob splits downloaded bytes back into nonce and ciphertext
// and recomputes the frame digest.
func ParseEncryptedBlob(data []byte) (*EncryptedBlob, error) {
	if len(data) <= gcmNonceSize {
		return nil, fmt.Errorf("%w: sealed blob too short", interfaces.ErrMalformedInput)
	}

	nonce := data[:gcmNonceSize]
	ciphertext := data[gcmNonceSize:]
	return &EncryptedBlob{
		Nonce:      nonce,
		Ciphertext: ciphertext,
		Digest:     ComputeDigest(data),
	}, nil
}

// ComputeDigest returns the SHA-256 hex digest of sealed blob bytes, exactly
// as stored in the blob store.
func ComputeDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// VerifyDigest checks retrieved blob bytes against their registered digest.
// On mismatch the content must not be decrypted or displayed.
func VerifyDigest(digest string, data []byte) error {
	if ComputeDigest(data) != digest {
		return interfaces.ErrDigestMismatch
	}
	return nil
}
