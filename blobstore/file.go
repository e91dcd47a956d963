package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// FileBackend stores blobs on the local filesystem, one file per blob named
// by the hex SHA-256 of its content.
type FileBackend struct {
	baseDir     string
	log         *slog.Logger
	locationURI string
}

// NewFileBackend creates a file storage backend rooted at baseDir.
func NewFileBackend(baseDir string, log *slog.Logger) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(baseDir, "blobs"), 0o755); err != nil {
		return nil, fmt.Errorf("could not create blob directory: %w", err)
	}

	return &FileBackend{
		baseDir:     baseDir,
		log:         log,
		locationURI: fmt.Sprintf("file://%s", baseDir),
	}, nil
}

// Upload writes the ciphertext and returns its hex SHA-256 as the content
// address.
func (b *FileBackend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	hash := sha256.Sum256(ciphertext)
	address := hex.EncodeToString(hash[:])

	if err := os.WriteFile(b.blobPath(address), ciphertext, 0o644); err != nil {
		return "", fmt.Errorf("could not write blob file: %w", err)
	}

	b.log.Debug("uploaded blob to file backend", "address", address, "size", len(ciphertext))
	return address, nil
}

// Download reads the ciphertext stored at the given content address.
func (b *FileBackend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	if !validFileAddress(contentAddress) {
		return nil, interfaces.ErrContentNotFound
	}

	data, err := os.ReadFile(b.blobPath(contentAddress))
	if os.IsNotExist(err) {
		return nil, interfaces.ErrContentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("could not read blob file: %w", err)
	}
	return data, nil
}

// Available reports whether the base directory is accessible.
func (b *FileBackend) Available(ctx context.Context) bool {
	_, err := os.Stat(b.baseDir)
	return err == nil
}

// Name returns an identifier for logging.
func (b *FileBackend) Name() string {
	return fmt.Sprintf("file-%s", filepath.Base(b.baseDir))
}

// LocationURI returns the URI identifying this backend.
func (b *FileBackend) LocationURI() string {
	return b.locationURI
}

func (b *FileBackend) blobPath(address string) string {
	return filepath.Join(b.baseDir, "blobs", address)
}

// validFileAddress rejects addresses that are not plain hex digests, which
// also keeps path separators out of the blob directory.
func validFileAddress(address string) bool {
	if len(address) != 64 {
		return false
	}
	_, err := hex.DecodeString(address)
	return err == nil
}
