package blobstore

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Factory creates blob backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BlobBackendFor creates a backend from a parsed location URI.
//
// Supported schemes:
//   - file:///var/lib/blobs
//   - ipfs://host:port
//   - s3://bucket/prefix?region=us-east-1&endpoint=...&access_key=...&secret_key=...
//   - vault://host:port/mount/path?token=...
func (f *Factory) BlobBackendFor(location interfaces.BlobLocation) (interfaces.BlobBackend, error) {
	switch location.Scheme {
	case "file":
		return f.createFileBackend(location)
	case "ipfs":
		return f.createIPFSBackend(location)
	case "s3":
		return f.createS3Backend(location)
	case "vault":
		return f.createVaultBackend(location)
	default:
		return nil, fmt.Errorf("unsupported blob storage scheme: %s", location.Scheme)
	}
}

// MultiBackendFor creates an aggregated backend from several URIs. URIs that
// fail to produce a backend are skipped with a warning; at least one must
// succeed.
func (f *Factory) MultiBackendFor(uris []string) (interfaces.BlobBackend, error) {
	backends := make([]interfaces.BlobBackend, 0, len(uris))

	for _, uri := range uris {
		location, err := interfaces.NewBlobLocation(uri)
		if err != nil {
			f.log.Warn("invalid blob backend URI", "uri", uri, "err", err)
			continue
		}
		backend, err := f.BlobBackendFor(location)
		if err != nil {
			f.log.Warn("could not create blob backend", "uri", uri, "err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid blob backends created")
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiBackend(backends, f.log), nil
}

func (f *Factory) createFileBackend(location interfaces.BlobLocation) (interfaces.BlobBackend, error) {
	baseDir := location.Path
	if location.Host != "" {
		baseDir = location.Host + location.Path
	}
	if baseDir == "" {
		return nil, fmt.Errorf("file backend requires a directory path")
	}
	return NewFileBackend(baseDir, f.log)
}

func (f *Factory) createIPFSBackend(location interfaces.BlobLocation) (interfaces.BlobBackend, error) {
	host, port, ok := strings.Cut(location.Host, ":")
	if !ok {
		port = "5001"
	}
	if host == "" {
		return nil, fmt.Errorf("ipfs backend requires a host")
	}
	return NewIPFSBackend(host, port, f.log)
}

func (f *Factory) createS3Backend(location interfaces.BlobLocation) (interfaces.BlobBackend, error) {
	bucket := location.Host
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires a bucket name")
	}

	region := location.GetParam("region")
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Backend(
		bucket,
		strings.TrimPrefix(location.Path, "/"),
		region,
		location.GetParam("endpoint"),
		location.GetParam("access_key"),
		location.GetParam("secret_key"),
		f.log,
	)
}

func (f *Factory) createVaultBackend(location interfaces.BlobLocation) (interfaces.BlobBackend, error) {
	if location.Host == "" {
		return nil, fmt.Errorf("vault backend requires a host")
	}

	scheme := "https"
	if location.GetParamBool("insecure") {
		scheme = "http"
	}
	address := fmt.Sprintf("%s://%s", scheme, location.Host)

	parts := strings.SplitN(strings.Trim(location.Path, "/"), "/", 2)
	mountPath := "secret"
	dataPath := "records"
	if len(parts) > 0 && parts[0] != "" {
		mountPath = parts[0]
	}
	if len(parts) > 1 {
		dataPath = parts[1]
	}

	return NewVaultBackend(address, mountPath, dataPath, location.GetParam("token"), f.log)
}
