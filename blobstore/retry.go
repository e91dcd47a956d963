package blobstore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/medicrypt/record-access-backend/interfaces"
)

const (
	defaultRetryAttempts = 3
	defaultRetryBase     = 200 * time.Millisecond
)

// RetryBackend wraps a backend with bounded exponential backoff on
// ErrBackendUnavailable. Deterministic failures (not found, bad input) pass
// through on the first attempt.
type RetryBackend struct {
	interfaces.BlobBackend

	attempts int
	base     time.Duration
	log      *slog.Logger

	// sleep is stubbed in tests.
	sleep func(context.Context, time.Duration) error
}

// NewRetryBackend wraps backend with the default retry policy.
func NewRetryBackend(backend interfaces.BlobBackend, log *slog.Logger) *RetryBackend {
	return &RetryBackend{
		BlobBackend: backend,
		attempts:    defaultRetryAttempts,
		base:        defaultRetryBase,
		log:         log,
		sleep:       sleepCtx,
	}
}

// Upload retries transient upload failures.
func (b *RetryBackend) Upload(ctx context.Context, ciphertext []byte) (string, error) {
	var address string
	err := b.retry(ctx, "upload", func() error {
		var err error
		address, err = b.BlobBackend.Upload(ctx, ciphertext)
		return err
	})
	return address, err
}

// Download retries transient download failures.
func (b *RetryBackend) Download(ctx context.Context, contentAddress string) ([]byte, error) {
	var data []byte
	err := b.retry(ctx, "download", func() error {
		var err error
		data, err = b.BlobBackend.Download(ctx, contentAddress)
		return err
	})
	return data, err
}

func (b *RetryBackend) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < b.attempts; attempt++ {
		if attempt > 0 {
			backoff := b.base << (attempt - 1)
			b.log.Warn("retrying blob operation",
				"backend", b.BlobBackend.Name(), "op", op, "attempt", attempt, "backoff", backoff)
			if sleepErr := b.sleep(ctx, backoff); sleepErr != nil {
				return sleepErr
			}
		}

		err = fn()
		if err == nil || !errors.Is(err, interfaces.ErrBackendUnavailable) {
			return err
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
