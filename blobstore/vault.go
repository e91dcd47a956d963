package blobstore

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// VaultBackend stores blobs in a HashiCorp Vault KV v2 mount. Ciphertext is
// base64-encoded into the secret payload, keyed by the hex SHA-256 of the
// content.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend using token authentication.
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.Timeout = 30 * time.Second

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("could not create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Upload writes the ciphertext into the KV mount and returns its hex
// SHA-256 as the content address.
func (b *VaultBackend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	hash := sha256.Sum256(ciphertext)
	address := hex.EncodeToString(hash[:])

	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"content": base64.StdEncoding.EncodeToString(ciphertext),
		},
	}
	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(address), payload); err != nil {
		return "", fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("uploaded blob to Vault", "address", address, "size", len(ciphertext))
	return address, nil
}

// Download reads the ciphertext stored at the given content address.
func (b *VaultBackend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(contentAddress))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrContentNotFound
	}

	// KV v2 nests the payload under "data".
	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected data format in Vault response")
	}
	encoded, ok := inner["content"].(string)
	if !ok {
		return nil, fmt.Errorf("content key missing in Vault data")
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("could not decode Vault blob content: %w", err)
	}
	return data, nil
}

// Available checks connectivity with a health request.
func (b *VaultBackend) Available(ctx context.Context) bool {
	health, err := b.client.Sys().HealthWithContext(ctx)
	if err != nil {
		b.log.Debug("Vault backend unavailable", "err", err)
		return false
	}
	return health.Initialized && !health.Sealed
}

// Name returns an identifier for logging.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI identifying this backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(address string) string {
	return fmt.Sprintf("%s/data/%s/blobs/%s", b.mountPath, b.dataPath, address)
}
