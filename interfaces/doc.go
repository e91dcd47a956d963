// Package interfaces defines the core types and contracts for the encrypted
// record access-control system. It provides the boundary between components
// without implementation details.
//
// The system keeps a single confidentiality invariant: server-side components
// only ever handle wrapped keys, ciphertext digests, and content addresses.
// Plaintext blobs and plaintext content keys exist exclusively on the key
// holder's device.
package interfaces
