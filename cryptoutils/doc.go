// Package cryptoutils implements the client-side envelope encryption used by
// the record access system: symmetric content keys, authenticated blob
// encryption, ciphertext digests, and asymmetric key wrapping for sharing.
//
// All operations in this package run on the key holder's device. The service
// never imports anything here except digest verification; plaintext content
// keys and plaintext blobs must not cross a network boundary.
package cryptoutils
