// Package blobstore provides content-addressed storage for ciphertext blobs.
//
// Backends are created from location URIs (file://, ipfs://, s3://,
// vault://) by the factory, and can be aggregated into a multi-backend that
// uploads everywhere and downloads from the first backend that has the
// content. Blobs are opaque ciphertext: no backend ever sees a plaintext
// record.
package blobstore
