package interfaces

import (
	"context"
	"fmt"
	"net/url"
)

// BlobBackend stores ciphertext blobs and addresses them with opaque
// backend-assigned strings. No assumption is made about the addressing
// scheme: uploading the same bytes twice may or may not return the same
// address.
type BlobBackend interface {
	// Upload stores ciphertext and returns its content address.
	Upload(ctx context.Context, ciphertext []byte) (string, error)

	// Download retrieves ciphertext by content address. Returns
	// ErrContentNotFound if the address is unknown, ErrBackendUnavailable
	// if the backend cannot be reached.
	Download(ctx context.Context, contentAddress string) ([]byte, error)

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns an identifier for logging.
	Name() string

	// LocationURI returns the URI identifying this backend.
	LocationURI() string
}

// BlobBackendFactory creates blob backends from location URIs.
type BlobBackendFactory interface {
	// BlobBackendFor creates a backend from a URI.
	// Supports file://, ipfs://, s3://, vault://
	BlobBackendFor(location BlobLocation) (BlobBackend, error)
}

// BlobLocation is a parsed blob backend URI.
type BlobLocation struct {
	Raw    string
	Scheme string
	Host   string
	Path   string
	Query  url.Values
	Auth   string
}

// NewBlobLocation parses and validates a blob backend URI.
func NewBlobLocation(uri string) (BlobLocation, error) {
	parsed, err := url.Parse(uri)
	if err != nil {
		return BlobLocation{}, fmt.Errorf("invalid blob location URI: %w", err)
	}

	switch parsed.Scheme {
	case "file", "ipfs", "s3", "vault":
	default:
		return BlobLocation{}, fmt.Errorf("unsupported blob storage scheme: %s", parsed.Scheme)
	}

	var auth string
	if parsed.User != nil {
		auth = parsed.User.String()
	}

	return BlobLocation{
		Raw:    uri,
		Scheme: parsed.Scheme,
		Host:   parsed.Host,
		Path:   parsed.Path,
		Query:  parsed.Query(),
		Auth:   auth,
	}, nil
}

// String returns the original URI.
func (loc BlobLocation) String() string {
	return loc.Raw
}

// GetParam returns a query parameter value.
func (loc BlobLocation) GetParam(name string) string {
	return loc.Query.Get(name)
}

// GetParamBool returns a boolean query parameter value.
func (loc BlobLocation) GetParamBool(name string) bool {
	value := loc.Query.Get(name)
	return value == "true" || value == "1" || value == "yes"
}
