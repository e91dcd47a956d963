package cryptoutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medicrypt/record-access-backend/interfaces"
)

func TestEncryptDecryptRoundtrip(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	plaintext := []byte("patient chart 2024-11-02: unremarkable")
	blob, err := EncryptBlob(key, plaintext)
	require.NoError(t, err)

	require.Len(t, blob.Nonce, 12)
	require.NotEqual(t, plaintext, blob.Ciphertext)

	decrypted, err := DecryptBlob(key, blob.Nonce, blob.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	blob, err := EncryptBlob(key, []byte("sensitive scan results"))
	require.NoError(t, err)

	// Flip a single byte; decryption must fail, not return wrong plaintext.
	for i := range blob.Ciphertext {
		tampered := make([]byte, len(blob.Ciphertext))
		copy(tampered, blob.Ciphertext)
		tampered[i] ^= 0x01

		_, err = DecryptBlob(key, blob.Nonce, tampered)
		require.Error(t, err, "tampering byte %d must fail decryption", i)
	}
}

func TestDecryptFailsWithWrongKey(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)
	otherKey, err := GenerateContentKey()
	require.NoError(t, err)

	blob, err := EncryptBlob(key, []byte("data"))
	require.NoError(t, err)

	_, err = DecryptBlob(otherKey, blob.Nonce, blob.Ciphertext)
	assert.Error(t, err)
}

func TestNonceUniqueness(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	const n = 2000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		blob, err := EncryptBlob(key, []byte("x"))
		require.NoError(t, err)

		nonce := string(blob.Nonce)
		require.False(t, seen[nonce], "nonce reused on iteration %d", i)
		seen[nonce] = true
	}
}

func TestDigestOverSealedBytesNotPlaintext(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	plaintext := []byte("lab report")
	blob, err := EncryptBlob(key, plaintext)
	require.NoError(t, err)

	// Anyone holding only the stored blob can verify integrity.
	assert.Equal(t, ComputeDigest(blob.Bytes()), blob.Digest)
	assert.NotEqual(t, ComputeDigest(plaintext), blob.Digest)
	assert.NoError(t, VerifyDigest(blob.Digest, blob.Bytes()))
}

func TestVerifyDigestMismatch(t *testing.T) {
	err := VerifyDigest(ComputeDigest([]byte("a")), []byte("b"))
	assert.ErrorIs(t, err, interfaces.ErrDigestMismatch)
}

func TestBlobFramingRoundtrip(t *testing.T) {
	key, err := GenerateContentKey()
	require.NoError(t, err)

	blob, err := EncryptBlob(key, []byte("framed payload"))
	require.NoError(t, err)

	parsed, err := ParseEncryptedBlob(blob.Bytes())
	require.NoError(t, err)
	assert.Equal(t, blob.Nonce, parsed.Nonce)
	assert.Equal(t, blob.Ciphertext, parsed.Ciphertext)
	assert.Equal(t, blob.Digest, parsed.Digest)

	decrypted, err := DecryptBlob(key, parsed.Nonce, parsed.Ciphertext)
	require.NoError(t, err)
	assert.Equal(t, []byte("framed payload"), decrypted)
}

func TestParseEncryptedBlobTooShort(t *testing.T) {
	_, err := ParseEncryptedBlob([]byte("short"))
	assert.ErrorIs(t, err, interfaces.ErrMalformedInput)
}
