package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/medicrypt/record-access-backend/interfaces"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewInMemoryStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
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

func testParams() interfaces.RegisterParams {
	return interfaces.RegisterParams{
		ContentAddress:  "QmTestContentAddress1234567890",
		ContentDigest:   strings.Repeat("ab", 32),
		FileName:        "bloodwork-2024.pdf",
		OwnerWrappedKey: "b64wrappedkeyforowner",
	}
}

func TestRegisterRecord(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)
	require.True(t, record.Active)
	require.Equal(t, owner, record.Owner)
	require.Equal(t, uint64(1), record.Version)
	require.Equal(t, RecordAddress(owner, testParams().ContentAddress), record.Address)

	got, err := store.GetRecord(ctx, record.Address)
	require.NoError(t, err)
	require.Equal(t, record, got)
}

func TestRegisterRecordDuplicate(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx := context.Background()

	_, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	_, err = store.RegisterRecord(ctx, owner, testParams())
	require.ErrorIs(t, err, interfaces.ErrDuplicateRecord)

	// A different owner with the same content lands on a different slot.
	_, err = store.RegisterRecord(ctx, newTestIdentity(t), testParams())
	require.NoError(t, err)
}

func TestRegisterRecordFieldBudgets(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx := context.Background()

	params := testParams()
	params.FileName = strings.Repeat("x", interfaces.MaxFileNameLen+1)
	_, err := store.RegisterRecord(ctx, owner, params)
	require.ErrorIs(t, err, interfaces.ErrFieldTooLong)

	params = testParams()
	params.OwnerWrappedKey = strings.Repeat("x", interfaces.MaxWrappedKeyLen+1)
	_, err = store.RegisterRecord(ctx, owner, params)
	require.ErrorIs(t, err, interfaces.ErrFieldTooLong)

	params = testParams()
	params.ContentAddress = ""
	_, err = store.RegisterRecord(ctx, owner, params)
	require.ErrorIs(t, err, interfaces.ErrMalformedInput)
}

func TestDeactivateRecord(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	stranger := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	_, err = store.DeactivateRecord(ctx, stranger, record.Address)
	require.ErrorIs(t, err, interfaces.ErrUnauthorizedOwner)

	deactivated, err := store.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)
	require.False(t, deactivated.Active)
	require.Equal(t, uint64(2), deactivated.Version)

	_, err = store.DeactivateRecord(ctx, owner, record.Address)
	require.ErrorIs(t, err, interfaces.ErrAlreadyInactive)

	var missing interfaces.EntityAddress
	missing[0] = 0xff
	_, err = store.DeactivateRecord(ctx, owner, missing)
	require.ErrorIs(t, err, interfaces.ErrRecordNotFound)
}

func TestGrantAccess(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	grant, err := store.GrantAccess(ctx, owner, record.Address, requester, "wrapped-for-requester")
	require.NoError(t, err)
	require.True(t, grant.Active)
	require.Equal(t, owner, grant.Granter)
	require.Equal(t, requester, grant.Requester)
	require.Equal(t, record.Address, grant.RecordAddress)
	require.Equal(t, uint64(1), grant.Version)

	got, err := store.GetGrant(ctx, record.Address, requester)
	require.NoError(t, err)
	require.Equal(t, grant, got)
}

func TestGrantAccessChecks(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	_, err = store.GrantAccess(ctx, newTestIdentity(t), record.Address, requester, "wk")
	require.ErrorIs(t, err, interfaces.ErrUnauthorizedOwner)

	_, err = store.GrantAccess(ctx, owner, record.Address, requester, strings.Repeat("x", interfaces.MaxWrappedKeyLen+1))
	require.ErrorIs(t, err, interfaces.ErrFieldTooLong)

	_, err = store.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)

	_, err = store.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.ErrorIs(t, err, interfaces.ErrRecordNotActive)
}

func TestRegrantRotatesKeyInPlace(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	first, err := store.GrantAccess(ctx, owner, record.Address, requester, "wrapped-v1")
	require.NoError(t, err)

	second, err := store.GrantAccess(ctx, owner, record.Address, requester, "wrapped-v2")
	require.NoError(t, err)
	require.Equal(t, first.Address, second.Address)
	require.Equal(t, "wrapped-v2", second.RequesterWrappedKey)
	require.Equal(t, first.Version+1, second.Version)

	// Still exactly one grant for the pair.
	count := 0
	require.NoError(t, store.ScanGrants(ctx, func(*interfaces.Grant) error {
		count++
		return nil
	}))
	require.Equal(t, 1, count)
}

func TestRevokeAccess(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	_, err = store.RevokeAccess(ctx, owner, record.Address, requester)
	require.ErrorIs(t, err, interfaces.ErrGrantNotFound)

	_, err = store.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.NoError(t, err)

	_, err = store.RevokeAccess(ctx, requester, record.Address, requester)
	require.ErrorIs(t, err, interfaces.ErrUnauthorizedOwner)

	revoked, err := store.RevokeAccess(ctx, owner, record.Address, requester)
	require.NoError(t, err)
	require.False(t, revoked.Active)
	require.NotZero(t, revoked.RevokedAt)

	_, err = store.RevokeAccess(ctx, owner, record.Address, requester)
	require.ErrorIs(t, err, interfaces.ErrGrantNotActive)

	// A fresh grant after revocation reactivates the same slot and clears
	// the revocation timestamp.
	regrant, err := store.GrantAccess(ctx, owner, record.Address, requester, "wk2")
	require.NoError(t, err)
	require.True(t, regrant.Active)
	require.Equal(t, revoked.Address, regrant.Address)
	require.Zero(t, regrant.RevokedAt)

	stored, err := store.GetGrant(ctx, record.Address, requester)
	require.NoError(t, err)
	require.Zero(t, stored.RevokedAt)
}

func TestDeactivateLeavesGrantsUntouched(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)
	_, err = store.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.NoError(t, err)

	_, err = store.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)

	grant, err := store.GetGrant(ctx, record.Address, requester)
	require.NoError(t, err)
	require.True(t, grant.Active)
}

func TestEventFeed(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := store.Events(ctx, 0)
	require.NoError(t, err)

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)
	_, err = store.GrantAccess(ctx, owner, record.Address, requester, "wk")
	require.NoError(t, err)
	_, err = store.RevokeAccess(ctx, owner, record.Address, requester)
	require.NoError(t, err)
	_, err = store.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)

	wantKinds := []interfaces.EventKind{
		interfaces.EventRecordRegistered,
		interfaces.EventAccessGranted,
		interfaces.EventAccessRevoked,
		interfaces.EventRecordDeactivated,
	}
	for i, want := range wantKinds {
		select {
		case event := <-events:
			require.Equal(t, want, event.Kind)
			require.Equal(t, uint64(i+1), event.Seq)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d (%s)", i+1, want)
		}
	}

	lastSeq, err := store.LastSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(4), lastSeq)
}

func TestEventFeedResumesAfterSeq(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	params := testParams()
	_, err := store.RegisterRecord(ctx, owner, params)
	require.NoError(t, err)
	params.ContentAddress = "QmSecondContentAddress"
	second, err := store.RegisterRecord(ctx, owner, params)
	require.NoError(t, err)

	events, err := store.Events(ctx, 1)
	require.NoError(t, err)

	select {
	case event := <-events:
		require.Equal(t, uint64(2), event.Seq)
		require.Equal(t, second.Address, event.Address)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for resumed event")
	}
}

func TestEventFeedClosesOnCancel(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := store.Events(ctx, 0)
	require.NoError(t, err)

	cancel()
	select {
	case _, open := <-events:
		require.False(t, open)
	case <-time.After(5 * time.Second):
		t.Fatal("feed did not close on cancel")
	}
}

func TestSequenceSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	owner := newTestIdentity(t)
	ctx := context.Background()

	store, err := NewStore(dir, log)
	require.NoError(t, err)
	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)
	_, err = store.DeactivateRecord(ctx, owner, record.Address)
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewStore(dir, log)
	require.NoError(t, err)
	defer reopened.Close()

	lastSeq, err := reopened.LastSeq(ctx)
	require.NoError(t, err)
	require.Equal(t, uint64(2), lastSeq)

	got, err := reopened.GetRecord(ctx, record.Address)
	require.NoError(t, err)
	require.False(t, got.Active)
}

func TestConcurrentConflictingDeactivations(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx := context.Background()

	record, err := store.RegisterRecord(ctx, owner, testParams())
	require.NoError(t, err)

	const writers = 16
	errs := make([]error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.DeactivateRecord(ctx, owner, record.Address)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.True(t, errors.Is(err, interfaces.ErrAlreadyInactive))
	}
	require.Equal(t, 1, succeeded)
}

func TestScanRecords(t *testing.T) {
	store := newTestStore(t)
	owner := newTestIdentity(t)
	ctx := context.Background()

	want := map[string]bool{}
	for _, addr := range []string{"QmAlpha", "QmBravo", "QmCharlie"} {
		params := testParams()
		params.ContentAddress = addr
		record, err := store.RegisterRecord(ctx, owner, params)
		require.NoError(t, err)
		want[record.Address.String()] = true
	}

	got := map[string]bool{}
	require.NoError(t, store.ScanRecords(ctx, func(record *interfaces.Record) error {
		got[record.Address.String()] = true
		return nil
	}))
	require.Equal(t, want, got)
}

func TestAddressDerivationIsStable(t *testing.T) {
	owner := newTestIdentity(t)
	requester := newTestIdentity(t)

	recordAddr := RecordAddress(owner, "QmSome")
	require.Equal(t, recordAddr, RecordAddress(owner, "QmSome"))
	require.NotEqual(t, recordAddr, RecordAddress(owner, "QmOther"))
	require.NotEqual(t, recordAddr, RecordAddress(requester, "QmSome"))

	grantAddr := GrantAddress(recordAddr, requester)
	require.Equal(t, grantAddr, GrantAddress(recordAddr, requester))
	require.NotEqual(t, grantAddr, GrantAddress(recordAddr, owner))
}
