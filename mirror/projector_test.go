package mirror

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/medicrypt/record-access-backend/interfaces"
	"github.com/medicrypt/record-access-backend/registry"
)

func newTestRegistry(t *testing.T) *registry.Store {
	t.Helper()
	store, err := registry.NewInMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestIdentity(t *testing.T) interfaces.Identity {
	t.Helper()
	var id interfaces.Identity
	_, err := rand.Read(id[:])
	require.NoError(t, err)
	return id
}

func registerTestRecord(t *testing.T, reg *registry.Store, owner interfaces.Identity, contentAddress string) *interfaces.Record {
	t.Helper()
	record, err := reg.RegisterRecord(context.Background(), owner, interfaces.RegisterParams{
		ContentAddress:  contentAddress,
		ContentDigest:   "deadbeef",
		FileName:        "scan.dcm",
		OwnerWrappedKey: "owner-wrapped",
	})
	require.NoError(t, err)
	return record
}

// waitForCursor polls the mirror until the projector has applied through seq.
func waitForCursor(t *testing.T, store interfaces.MirrorStore, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		cursor, err := store.Cursor(context.Background())
		require.NoError(t, err)
		if cursor >= seq {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("projector did not reach seq %d", seq)
}

func TestProjectorFollowsGrantLifecycle(t *testing.T) {
	reg := newTestRegistry(t)
	store := NewMemoryStore()
	projector := NewProjector(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = projector.Run(ctx) }()

	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	record := registerTestRecord(t, reg, owner, "QmLifecycle")

	_, err := reg.GrantAccess(ctx, owner, record.Address, requester, "wrapped-for-requester")
	require.NoError(t, err)
	waitForCursor(t, store, 2)

	owned, err := store.ListOwnedActiveRecords(ctx, owner)
	require.NoError(t, err)
	require.Len(t, owned, 1)
	require.Equal(t, record.Address, owned[0].Address)

	shared, err := store.ListGrantedActiveRecords(ctx, requester)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	require.Equal(t, "wrapped-for-requester", shared[0].Grant.RequesterWrappedKey)
	require.Equal(t, record.Address, shared[0].Record.Address)

	// Revocation removes the row from the requester's view.
	_, err = reg.RevokeAccess(ctx, owner, record.Address, requester)
	require.NoError(t, err)
	waitForCursor(t, store, 3)

	shared, err = store.ListGrantedActiveRecords(ctx, requester)
	require.NoError(t, err)
	require.Empty(t, shared)
}

func TestProjectorDeactivationHidesOwnedNotShared(t *testing.T) {
	reg := newTestRegistry(t)
	store := NewMemoryStore()
	projector := NewProjector(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = projector.Run(ctx) }()

	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	record := registerTestRecord(t, reg, owner, "QmDeactivate")
	_, err := reg.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.NoError(t, err)
	_, err = reg.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)
	waitForCursor(t, store, 3)

	owned, err := store.ListOwnedActiveRecords(ctx, owner)
	require.NoError(t, err)
	require.Empty(t, owned)

	// The grant outlives deactivation; only revocation removes it from the
	// requester's listing.
	shared, err := store.ListGrantedActiveRecords(ctx, requester)
	require.NoError(t, err)
	require.Len(t, shared, 1)
	require.False(t, shared[0].Record.Active)
}

func TestApplyIsIdempotent(t *testing.T) {
	reg := newTestRegistry(t)
	store := NewMemoryStore()
	projector := NewProjector(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	owner := newTestIdentity(t)
	record := registerTestRecord(t, reg, owner, "QmIdempotent")

	event := interfaces.Event{
		Seq:     1,
		Kind:    interfaces.EventRecordRegistered,
		Address: record.Address,
		Record:  record,
	}
	require.NoError(t, projector.Apply(ctx, event))
	require.NoError(t, projector.Apply(ctx, event))

	// A stale replay after a newer version must not regress the row.
	deactivated, err := reg.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)
	require.NoError(t, projector.Apply(ctx, interfaces.Event{
		Seq:     2,
		Kind:    interfaces.EventRecordDeactivated,
		Address: record.Address,
		Record:  deactivated,
	}))
	require.NoError(t, projector.Apply(ctx, event))

	all, err := store.ListAllRecords(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.False(t, all[0].Active)
	require.Equal(t, uint64(2), all[0].Version)
}

func TestApplyUpdatesMetrics(t *testing.T) {
	reg := newTestRegistry(t)
	store := NewMemoryStore()
	projector := NewProjector(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()

	applied := prometheus.NewCounter(prometheus.CounterOpts{Name: "test_mirror_events_applied_total"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_mirror_lag_events"})
	projector.SetMetrics(applied, lag)

	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	record := registerTestRecord(t, reg, owner, "QmMetrics")
	grant, err := reg.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.NoError(t, err)

	// Two events confirmed, none applied yet: applying the first leaves a
	// lag of one.
	require.NoError(t, projector.Apply(ctx, interfaces.Event{
		Seq:     1,
		Kind:    interfaces.EventRecordRegistered,
		Address: record.Address,
		Record:  record,
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(applied))
	require.Equal(t, 1.0, testutil.ToFloat64(lag))

	require.NoError(t, projector.Apply(ctx, interfaces.Event{
		Seq:     2,
		Kind:    interfaces.EventAccessGranted,
		Address: grant.Address,
		Grant:   grant,
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(applied))
	require.Zero(t, testutil.ToFloat64(lag))
}

// closedFeedRegistry hands out an already-closed event channel, standing in
// for a registry that could not keep reading its event log.
type closedFeedRegistry struct {
	interfaces.AuthorizationRegistry
}

func (closedFeedRegistry) Events(ctx context.Context, afterSeq uint64) (<-chan interfaces.Event, error) {
	ch := make(chan interfaces.Event)
	close(ch)
	return ch, nil
}

func TestConsumeTreatsFeedClosureAsFailure(t *testing.T) {
	projector := NewProjector(closedFeedRegistry{}, NewMemoryStore(), slog.New(slog.NewTextHandler(io.Discard, nil)))

	// A feed that closes while the context is still live must surface an
	// error so Run resumes from the cursor instead of stopping silently.
	require.Error(t, projector.consume(context.Background(), 0))

	// Closure after cancellation is a clean shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, projector.consume(ctx, 0))
}

func TestProjectorResumesFromCursor(t *testing.T) {
	reg := newTestRegistry(t)
	store := NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	owner := newTestIdentity(t)
	registerTestRecord(t, reg, owner, "QmFirst")

	ctx, cancel := context.WithCancel(context.Background())
	first := NewProjector(reg, store, log)
	go func() { _ = first.Run(ctx) }()
	waitForCursor(t, store, 1)
	cancel()

	// Events confirmed while no projector runs are picked up on restart.
	registerTestRecord(t, reg, owner, "QmSecond")

	ctx2, cancel2 := context.WithCancel(context.Background())
	defer cancel2()
	second := NewProjector(reg, store, log)
	go func() { _ = second.Run(ctx2) }()
	waitForCursor(t, store, 2)

	owned, err := store.ListOwnedActiveRecords(ctx2, owner)
	require.NoError(t, err)
	require.Len(t, owned, 2)
}

func TestResyncRebuildsProjection(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	recordA := registerTestRecord(t, reg, owner, "QmResyncA")
	registerTestRecord(t, reg, owner, "QmResyncB")
	_, err := reg.GrantAccess(ctx, owner, recordA.Address, requester, "wk")
	require.NoError(t, err)

	// Fresh, empty mirror standing in for a lost one.
	store := NewMemoryStore()
	projector := NewProjector(reg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, projector.Resync(ctx))

	owned, err := store.ListOwnedActiveRecords(ctx, owner)
	require.NoError(t, err)
	require.Len(t, owned, 2)

	shared, err := store.ListGrantedActiveRecords(ctx, requester)
	require.NoError(t, err)
	require.Len(t, shared, 1)

	cursor, err := store.Cursor(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(3), cursor)
}
