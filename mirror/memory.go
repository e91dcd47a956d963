package mirror

import (
	"context"
	"sort"
	"sync"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// MemoryStore is an in-process MirrorStore. Used by tests and the standalone
// development mode; its cursor does not survive a restart, which the
// projector handles by replaying from zero.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[interfaces.EntityAddress]interfaces.Record
	grants  map[interfaces.EntityAddress]interfaces.Grant
	cursor  uint64
}

// NewMemoryStore creates an empty in-memory mirror.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[interfaces.EntityAddress]interfaces.Record),
		grants:  make(map[interfaces.EntityAddress]interfaces.Grant),
	}
}

// UpsertRecord applies a record projection if it is newer than the stored row.
func (s *MemoryStore) UpsertRecord(ctx context.Context, record interfaces.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.records[record.Address]; ok && existing.Version >= record.Version {
		return nil
	}
	s.records[record.Address] = record
	return nil
}

// UpsertGrant applies a grant projection if it is newer than the stored row.
func (s *MemoryStore) UpsertGrant(ctx context.Context, grant interfaces.Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.grants[grant.Address]; ok && existing.Version >= grant.Version {
		return nil
	}
	s.grants[grant.Address] = grant
	return nil
}

// Cursor returns the last durably applied event sequence.
func (s *MemoryStore) Cursor(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor, nil
}

// SetCursor advances the event cursor.
func (s *MemoryStore) SetCursor(ctx context.Context, seq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq > s.cursor {
		s.cursor = seq
	}
	return nil
}

// ListOwnedActiveRecords returns active records owned by owner.
func (s *MemoryStore) ListOwnedActiveRecords(ctx context.Context, owner interfaces.Identity) ([]interfaces.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.Record
	for _, record := range s.records {
		if record.Active && record.Owner.Equal(owner) {
			out = append(out, record)
		}
	}
	sortRecords(out)
	return out, nil
}

// ListGrantedActiveRecords returns active grants held by requester joined
// with their records. Record deactivation does not hide the row; only
// revocation does.
func (s *MemoryStore) ListGrantedActiveRecords(ctx context.Context, requester interfaces.Identity) ([]interfaces.SharedRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []interfaces.SharedRecord
	for _, grant := range s.grants {
		if !grant.Active || !grant.Requester.Equal(requester) {
			continue
		}
		record, ok := s.records[grant.RecordAddress]
		if !ok {
			// Grant event applied before its record event; the row appears
			// once the record lands.
			continue
		}
		out = append(out, interfaces.SharedRecord{Record: record, Grant: grant})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Grant.Address.String() < out[j].Grant.Address.String()
	})
	return out, nil
}

// ListAllRecords returns every record projection.
func (s *MemoryStore) ListAllRecords(ctx context.Context) ([]interfaces.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]interfaces.Record, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	sortRecords(out)
	return out, nil
}

func sortRecords(records []interfaces.Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Address.String() < records[j].Address.String()
	})
}
