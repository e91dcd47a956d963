// Package httpserver exposes the record access service over HTTP: wallet
// login, record registration and lifecycle, grant management, mirror-backed
// listings and ciphertext blob transfer, plus the usual health and drain
// endpoints.
//
// The server never sees plaintext records or content keys. Encryption,
// decryption and key wrapping happen on clients; the API carries only
// ciphertext, digests and wrapped keys.
package httpserver
