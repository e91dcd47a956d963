package blobstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// MultiBackend aggregates several backends for redundancy: uploads go to
// every available backend, downloads return from the first backend that has
// the content.
type MultiBackend struct {
	backends []interfaces.BlobBackend
	log      *slog.Logger
}

// NewMultiBackend creates an aggregating backend over the given backends.
func NewMultiBackend(backends []interfaces.BlobBackend, log *slog.Logger) *MultiBackend {
	return &MultiBackend{
		backends: backends,
		log:      log,
	}
}

// Upload stores the ciphertext to all available backends and returns the
// first successful content address. Backends that address by digest agree on
// the address; an IPFS backend mixed in may assign a different one, which is
// logged and ignored.
func (m *MultiBackend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	start := time.Now()
	var address string
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("backend unavailable for upload", "backend", backend.Name())
			continue
		}

		got, err := backend.Upload(ctx, ciphertext)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
			m.log.Warn("blob upload failed on backend", "backend", backend.Name(), "err", err)
			continue
		}

		if address == "" {
			address = got
		} else if address != got {
			m.log.Warn("backends disagree on content address",
				"backend", backend.Name(), "address", got, "using", address)
		}
	}

	if address == "" {
		return "", fmt.Errorf("all backends failed to store blob: %v", errs)
	}

	m.log.Debug("uploaded blob", "address", address, "took", time.Since(start))
	return address, nil
}

// Download returns the blob from the first backend that has it.
func (m *MultiBackend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}

		data, err := backend.Download(ctx, contentAddress)
		if err == nil {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
	}

	if len(errs) == 0 {
		return nil, interfaces.ErrBackendUnavailable
	}

	for _, err := range errs {
		// Not-found on every reachable backend stays a not-found for the
		// caller; anything else surfaces as a backend failure.
		if !errors.Is(err, interfaces.ErrContentNotFound) {
			return nil, fmt.Errorf("could not download blob %s: %v", contentAddress, errs)
		}
	}
	return nil, interfaces.ErrContentNotFound
}

// Available reports whether any backend is reachable.
func (m *MultiBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

// Name returns an identifier for logging.
func (m *MultiBackend) Name() string {
	return "multi"
}

// LocationURI returns the joined URIs of the aggregated backends.
func (m *MultiBackend) LocationURI() string {
	uris := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		uris = append(uris, backend.LocationURI())
	}
	return strings.Join(uris, ",")
}
