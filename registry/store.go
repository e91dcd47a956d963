package registry

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/atomic"

	"github.com/medicrypt/record-access-backend/interfaces"
)

const (
	recordKeyPrefix = "r/"
	grantKeyPrefix  = "g/"
	eventKeyPrefix  = "e/"

	// eventBatchSize bounds how many events one feed iteration reads before
	// checking for cancellation again.
	eventBatchSize = 256
)

// Store is a persistent AuthorizationRegistry on Badger. All mutations are
// read-check-write inside a single transaction under writeMu, which both
// resolves concurrent conflicting calls to exactly one winner and keeps
// event sequence numbers gap-free in commit order.
type Store struct {
	db  *badger.DB
	log *slog.Logger

	lastSeq atomic.Uint64
	writeMu sync.Mutex

	// notifyMu guards notify. Writers close the current channel after a
	// successful commit and replace it, waking every feed goroutine at once.
	notifyMu sync.Mutex
	notify   chan struct{}
}

// NewStore opens a registry at the given directory.
func NewStore(dir string, log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	return newStore(opts, log)
}

// NewInMemoryStore opens a registry that lives only as long as the process.
// Used by tests and the standalone development mode.
func NewInMemoryStore(log *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	return newStore(opts, log)
}

func newStore(opts badger.Options, log *slog.Logger) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("could not open registry database: %w", err)
	}

	s := &Store{
		db:     db,
		log:    log,
		notify: make(chan struct{}),
	}

	if err := s.recoverLastSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info("registry store opened", "lastSeq", s.lastSeq.Load(), "inMemory", opts.InMemory)
	return s, nil
}

// Close flushes and closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// recoverLastSeq seeks to the highest event key so sequence numbers keep
// increasing across restarts.
func (s *Store) recoverLastSeq() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the whole event keyspace, then the first key in reverse
		// order is the newest event.
		it.Seek(append([]byte(eventKeyPrefix), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff))
		if it.ValidForPrefix([]byte(eventKeyPrefix)) {
			key := it.Item().Key()
			s.lastSeq.Store(binary.BigEndian.Uint64(key[len(eventKeyPrefix):]))
		}
		return nil
	})
}

func recordKey(addr interfaces.EntityAddress) []byte {
	return append([]byte(recordKeyPrefix), addr.Bytes()...)
}

func grantKey(addr interfaces.EntityAddress) []byte {
	return append([]byte(grantKeyPrefix), addr.Bytes()...)
}

func eventKey(seq uint64) []byte {
	key := make([]byte, len(eventKeyPrefix)+8)
	copy(key, eventKeyPrefix)
	binary.BigEndian.PutUint64(key[len(eventKeyPrefix):], seq)
	return key
}

func getJSON(txn *badger.Txn, key []byte, dst any) error {
	item, err := txn.Get(key)
	if err != nil {
		return err
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, dst)
	})
}

func setJSON(txn *badger.Txn, key []byte, src any) error {
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return txn.Set(key, raw)
}

// appendEvent persists the event under the next sequence number. Called only
// inside a mutation transaction while holding writeMu, so seq assignment and
// the entity write commit atomically.
func (s *Store) appendEvent(txn *badger.Txn, event *interfaces.Event) error {
	event.Seq = s.lastSeq.Load() + 1
	return setJSON(txn, eventKey(event.Seq), event)
}

// commitNotify bumps the sequence counter and wakes every event feed. Called
// after a successful commit that appended one event.
func (s *Store) commitNotify() {
	s.lastSeq.Inc()

	s.notifyMu.Lock()
	close(s.notify)
	s.notify = make(chan struct{})
	s.notifyMu.Unlock()
}

func (s *Store) notifyChan() chan struct{} {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	return s.notify
}

// RegisterRecord creates the record at the slot derived from the owner and
// content address. The slot being occupied means the same (owner, content)
// pair was registered before, active or not, and is rejected.
func (s *Store) RegisterRecord(ctx context.Context, owner interfaces.Identity, params interfaces.RegisterParams) (*interfaces.Record, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	addr := RecordAddress(owner, params.ContentAddress)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().Unix()
	record := &interfaces.Record{
		Address:         addr,
		Owner:           owner,
		ContentAddress:  params.ContentAddress,
		ContentDigest:   params.ContentDigest,
		FileName:        params.FileName,
		OwnerWrappedKey: params.OwnerWrappedKey,
		Active:          true,
		CreatedAt:       now,
		Version:         1,
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(recordKey(addr))
		if err == nil {
			return interfaces.ErrDuplicateRecord
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if err := setJSON(txn, recordKey(addr), record); err != nil {
			return err
		}
		return s.appendEvent(txn, &interfaces.Event{
			Kind:      interfaces.EventRecordRegistered,
			Address:   addr,
			Record:    record,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.commitNotify()
	s.log.Info("record registered", "address", addr.String(), "owner", owner.String())
	return record, nil
}

// DeactivateRecord flips the record inactive. The transition is one-way and
// owner-only. Existing grants are left untouched; access checks consult the
// record's active flag independently.
func (s *Store) DeactivateRecord(ctx context.Context, caller interfaces.Identity, recordAddr interfaces.EntityAddress) (*interfaces.Record, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var record interfaces.Record
	now := time.Now().Unix()

	err := s.db.Update(func(txn *badger.Txn) error {
		if err := getJSON(txn, recordKey(recordAddr), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrRecordNotFound
			}
			return err
		}
		if !record.Owner.Equal(caller) {
			return interfaces.ErrUnauthorizedOwner
		}
		if !record.Active {
			return interfaces.ErrAlreadyInactive
		}

		record.Active = false
		record.Version++
		if err := setJSON(txn, recordKey(recordAddr), &record); err != nil {
			return err
		}
		return s.appendEvent(txn, &interfaces.Event{
			Kind:      interfaces.EventRecordDeactivated,
			Address:   recordAddr,
			Record:    &record,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.commitNotify()
	s.log.Info("record deactivated", "address", recordAddr.String())
	return &record, nil
}

// GrantAccess creates or refreshes the grant for (record, requester). The
// derived slot makes re-granting an in-place update: the wrapped key rotates
// and the grant returns to active with a fresh timestamp.
func (s *Store) GrantAccess(ctx context.Context, caller interfaces.Identity, recordAddr interfaces.EntityAddress, requester interfaces.Identity, wrappedKey string) (*interfaces.Grant, error) {
	if err := interfaces.CheckFieldBudget("wrapped_key", wrappedKey, interfaces.MaxWrappedKeyLen); err != nil {
		return nil, err
	}

	grantAddr := GrantAddress(recordAddr, requester)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var grant interfaces.Grant
	now := time.Now().Unix()

	err := s.db.Update(func(txn *badger.Txn) error {
		var record interfaces.Record
		if err := getJSON(txn, recordKey(recordAddr), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrRecordNotFound
			}
			return err
		}
		if !record.Owner.Equal(caller) {
			return interfaces.ErrUnauthorizedOwner
		}
		if !record.Active {
			return interfaces.ErrRecordNotActive
		}

		err := getJSON(txn, grantKey(grantAddr), &grant)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			grant = interfaces.Grant{
				Address:       grantAddr,
				RecordAddress: recordAddr,
				Requester:     requester,
				Granter:       caller,
				Version:       0,
			}
		case err != nil:
			return err
		}

		grant.RequesterWrappedKey = wrappedKey
		grant.Active = true
		grant.GrantedAt = now
		grant.RevokedAt = 0
		grant.Version++
		if err := setJSON(txn, grantKey(grantAddr), &grant); err != nil {
			return err
		}
		return s.appendEvent(txn, &interfaces.Event{
			Kind:      interfaces.EventAccessGranted,
			Address:   grantAddr,
			Grant:     &grant,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.commitNotify()
	s.log.Info("access granted", "record", recordAddr.String(), "requester", requester.String())
	return &grant, nil
}

// RevokeAccess deactivates the grant for (record, requester). Only the
// record's owner may revoke; a requester cannot shed its own grant.
func (s *Store) RevokeAccess(ctx context.Context, caller interfaces.Identity, recordAddr interfaces.EntityAddress, requester interfaces.Identity) (*interfaces.Grant, error) {
	grantAddr := GrantAddress(recordAddr, requester)
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var grant interfaces.Grant
	now := time.Now().Unix()

	err := s.db.Update(func(txn *badger.Txn) error {
		var record interfaces.Record
		if err := getJSON(txn, recordKey(recordAddr), &record); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrRecordNotFound
			}
			return err
		}
		if !record.Owner.Equal(caller) {
			return interfaces.ErrUnauthorizedOwner
		}

		if err := getJSON(txn, grantKey(grantAddr), &grant); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return interfaces.ErrGrantNotFound
			}
			return err
		}
		if !grant.Active {
			return interfaces.ErrGrantNotActive
		}

		grant.Active = false
		grant.RevokedAt = now
		grant.Version++
		if err := setJSON(txn, grantKey(grantAddr), &grant); err != nil {
			return err
		}
		return s.appendEvent(txn, &interfaces.Event{
			Kind:      interfaces.EventAccessRevoked,
			Address:   grantAddr,
			Grant:     &grant,
			Timestamp: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.commitNotify()
	s.log.Info("access revoked", "record", recordAddr.String(), "requester", requester.String())
	return &grant, nil
}

// GetRecord reads a record by address.
func (s *Store) GetRecord(ctx context.Context, recordAddr interfaces.EntityAddress) (*interfaces.Record, error) {
	var record interfaces.Record
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, recordKey(recordAddr), &record)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// GetGrant reads the grant for a (record, requester) pair.
func (s *Store) GetGrant(ctx context.Context, recordAddr interfaces.EntityAddress, requester interfaces.Identity) (*interfaces.Grant, error) {
	var grant interfaces.Grant
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, grantKey(GrantAddress(recordAddr, requester)), &grant)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, interfaces.ErrGrantNotFound
	}
	if err != nil {
		return nil, err
	}
	return &grant, nil
}

// ScanRecords invokes fn for every record in key order.
func (s *Store) ScanRecords(ctx context.Context, fn func(*interfaces.Record) error) error {
	return s.scanPrefix(ctx, []byte(recordKeyPrefix), func(val []byte) error {
		var record interfaces.Record
		if err := json.Unmarshal(val, &record); err != nil {
			return err
		}
		return fn(&record)
	})
}

// ScanGrants invokes fn for every grant in key order.
func (s *Store) ScanGrants(ctx context.Context, fn func(*interfaces.Grant) error) error {
	return s.scanPrefix(ctx, []byte(grantKeyPrefix), func(val []byte) error {
		var grant interfaces.Grant
		if err := json.Unmarshal(val, &grant); err != nil {
			return err
		}
		return fn(&grant)
	})
}

func (s *Store) scanPrefix(ctx context.Context, prefix []byte, fn func(val []byte) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := it.Item().Value(fn); err != nil {
				return err
			}
		}
		return nil
	})
}

// LastSeq returns the sequence number of the most recent event.
func (s *Store) LastSeq(ctx context.Context) (uint64, error) {
	return s.lastSeq.Load(), nil
}

// Events returns a live feed of confirmed events with Seq > afterSeq. The
// feed first drains persisted events, then blocks on the notify channel for
// new commits. The returned channel closes when ctx is done.
func (s *Store) Events(ctx context.Context, afterSeq uint64) (<-chan interfaces.Event, error) {
	out := make(chan interfaces.Event)

	go func() {
		defer close(out)
		cursor := afterSeq

		for {
			// Snapshot the notify channel before reading, so a commit that
			// lands during the read still wakes the next wait.
			notify := s.notifyChan()

			for {
				events, err := s.readEvents(cursor, eventBatchSize)
				if err != nil {
					s.log.Error("event feed read failed", "err", err)
					return
				}
				if len(events) == 0 {
					break
				}
				for _, event := range events {
					select {
					case out <- event:
						cursor = event.Seq
					case <-ctx.Done():
						return
					}
				}
			}

			select {
			case <-notify:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// readEvents loads up to limit persisted events with Seq > afterSeq.
func (s *Store) readEvents(afterSeq uint64, limit int) ([]interfaces.Event, error) {
	var events []interfaces.Event
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(eventKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		start := eventKey(afterSeq + 1)
		for it.Seek(start); it.ValidForPrefix([]byte(eventKeyPrefix)) && len(events) < limit; it.Next() {
			var event interfaces.Event
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &event)
			}); err != nil {
				return err
			}
			events = append(events, event)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}
