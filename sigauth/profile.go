package sigauth

import (
	"context"
	"sync"

	"github.com/medicrypt/record-access-backend/interfaces"
)

// Profile is the optional per-identity role assignment. Identities are
// self-certifying, so a missing profile is not an authentication failure;
// it just means the default role applies.
type Profile struct {
	Identity interfaces.Identity `json:"identity"`
	Role     interfaces.Role     `json:"role"`
}

// ProfileStore is injected into the authenticator rather than living as
// ambient global state; its lifecycle is tied to process start/stop.
type ProfileStore interface {
	// Get returns the profile for an identity, or (nil, nil) if none exists.
	Get(ctx context.Context, identity interfaces.Identity) (*Profile, error)

	// Upsert creates or replaces a profile.
	Upsert(ctx context.Context, profile *Profile) error
}

// MemoryProfileStore is a process-local ProfileStore.
type MemoryProfileStore struct {
	mu       sync.RWMutex
	profiles map[interfaces.Identity]Profile
}

// NewMemoryProfileStore creates an empty in-memory profile store.
func NewMemoryProfileStore() *MemoryProfileStore {
	return &MemoryProfileStore{profiles: make(map[interfaces.Identity]Profile)}
}

// Get implements ProfileStore.
func (s *MemoryProfileStore) Get(_ context.Context, identity interfaces.Identity) (*Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	profile, ok := s.profiles[identity]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}

// Upsert implements ProfileStore.
func (s *MemoryProfileStore) Upsert(_ context.Context, profile *Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[profile.Identity] = *profile
	return nil
}
