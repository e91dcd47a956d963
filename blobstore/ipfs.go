package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// IPFSBackend stores blobs on an IPFS node. Content addresses are the CIDs
// assigned by the node, not local digests.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS storage backend connected to the node API
// at host:port.
func NewIPFSBackend(host, port string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s", apiURL),
	}, nil
}

// Upload adds the ciphertext to IPFS and returns its CID.
func (b *IPFSBackend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	if !b.shell.IsUp() {
		return "", interfaces.ErrBackendUnavailable
	}

	start := time.Now()
	cid, err := b.shell.Add(bytes.NewReader(ciphertext))
	if err != nil {
		return "", fmt.Errorf("could not add blob to IPFS: %w", err)
	}

	b.log.Debug("uploaded blob to IPFS", "cid", cid, "size", len(ciphertext), "took", time.Since(start))
	return cid, nil
}

// Download retrieves the ciphertext for a CID.
func (b *IPFSBackend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable", "host", b.host, "port", b.port)
		return nil, interfaces.ErrBackendUnavailable
	}

	reader, err := b.shell.Cat(contentAddress)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") || strings.Contains(err.Error(), "invalid path") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("could not fetch blob from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("could not read blob from IPFS: %w", err)
	}
	return data, nil
}

// Available reports whether the IPFS node answers.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns an identifier for logging.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI identifying this backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}
