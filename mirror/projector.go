package mirror

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// retryBackoff is how long the projector waits after a failed apply before
// re-reading the feed. Applies are idempotent, so retrying from the durable
// cursor is always safe.
const retryBackoff = 2 * time.Second

// Projector tails the registry event feed and applies each event to the
// mirror store. Delivery is at least once: the cursor only advances after
// the event's row is durably written, so a crash between the two replays
// the event on restart and the version guard absorbs the duplicate.
type Projector struct {
	registry interfaces.AuthorizationRegistry
	store    interfaces.MirrorStore
	log      *slog.Logger

	applied prometheus.Counter
	lag     prometheus.Gauge
}

// NewProjector wires a registry feed to a mirror store.
func NewProjector(registry interfaces.AuthorizationRegistry, store interfaces.MirrorStore, log *slog.Logger) *Projector {
	return &Projector{
		registry: registry,
		store:    store,
		log:      log,
	}
}

// SetMetrics installs an applied-event counter and a lag gauge. Call before
// Run; both are optional.
func (p *Projector) SetMetrics(applied prometheus.Counter, lag prometheus.Gauge) {
	p.applied = applied
	p.lag = lag
}

// Run consumes events from the durable cursor until ctx is done. A failed
// apply tears down the feed and resumes from the cursor after a backoff
// rather than skipping the event.
func (p *Projector) Run(ctx context.Context) error {
	for {
		cursor, err := p.store.Cursor(ctx)
		if err != nil {
			return fmt.Errorf("could not read mirror cursor: %w", err)
		}
		p.log.Info("mirror projector starting", "cursor", cursor)

		if err := p.consume(ctx, cursor); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.log.Error("mirror apply failed, resuming from cursor", "err", err)
			select {
			case <-time.After(retryBackoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		return nil
	}
}

func (p *Projector) consume(ctx context.Context, afterSeq uint64) error {
	feedCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := p.registry.Events(feedCtx, afterSeq)
	if err != nil {
		return fmt.Errorf("could not open registry event feed: %w", err)
	}

	for event := range events {
		if err := p.Apply(ctx, event); err != nil {
			return err
		}
	}

	// The feed closes on ctx cancellation; a closure with a live ctx means
	// the registry could not keep reading events, so resume from the cursor.
	if ctx.Err() == nil {
		return errors.New("event feed closed unexpectedly")
	}
	return nil
}

// Apply projects one event and then advances the cursor. Safe to call with
// an already-applied event.
func (p *Projector) Apply(ctx context.Context, event interfaces.Event) error {
	switch event.Kind {
	case interfaces.EventRecordRegistered, interfaces.EventRecordDeactivated:
		if event.Record == nil {
			return fmt.Errorf("event %d (%s) carries no record", event.Seq, event.Kind)
		}
		if err := p.store.UpsertRecord(ctx, *event.Record); err != nil {
			return fmt.Errorf("could not apply event %d: %w", event.Seq, err)
		}
	case interfaces.EventAccessGranted, interfaces.EventAccessRevoked:
		if event.Grant == nil {
			return fmt.Errorf("event %d (%s) carries no grant", event.Seq, event.Kind)
		}
		if err := p.store.UpsertGrant(ctx, *event.Grant); err != nil {
			return fmt.Errorf("could not apply event %d: %w", event.Seq, err)
		}
	default:
		// Unknown kinds are advanced past, not fatal: an older mirror build
		// tailing a newer registry should keep projecting what it knows.
		p.log.Warn("skipping event of unknown kind", "seq", event.Seq, "kind", event.Kind)
	}

	if err := p.store.SetCursor(ctx, event.Seq); err != nil {
		return fmt.Errorf("could not advance cursor past event %d: %w", event.Seq, err)
	}

	if p.applied != nil {
		p.applied.Inc()
	}
	if p.lag != nil {
		if last, err := p.registry.LastSeq(ctx); err == nil && last >= event.Seq {
			p.lag.Set(float64(last - event.Seq))
		}
	}

	p.log.Debug("event applied", "seq", event.Seq, "kind", event.Kind)
	return nil
}

// Resync rebuilds the projection from full registry scans. Used when a
// mirror is new, lost, or suspected divergent. Events confirmed during the
// scan are re-applied afterwards by the normal feed; the version guard makes
// the overlap harmless.
func (p *Projector) Resync(ctx context.Context) error {
	start := time.Now()

	// Snapshot the sequence before scanning, so the cursor never claims
	// events the scan may not have seen.
	seq, err := p.registry.LastSeq(ctx)
	if err != nil {
		return fmt.Errorf("could not read registry sequence: %w", err)
	}

	records := 0
	err = p.registry.ScanRecords(ctx, func(record *interfaces.Record) error {
		records++
		return p.store.UpsertRecord(ctx, *record)
	})
	if err != nil {
		return fmt.Errorf("record resync failed: %w", err)
	}

	grants := 0
	err = p.registry.ScanGrants(ctx, func(grant *interfaces.Grant) error {
		grants++
		return p.store.UpsertGrant(ctx, *grant)
	})
	if err != nil {
		return fmt.Errorf("grant resync failed: %w", err)
	}

	if err := p.store.SetCursor(ctx, seq); err != nil {
		return fmt.Errorf("could not set cursor after resync: %w", err)
	}

	p.log.Info("mirror resync complete", "records", records, "grants", grants, "cursor", seq, "took", time.Since(start))
	return nil
}
