package account

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is a Store kept in process memory. Used by tests and by
// single-instance development setups.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*Account
	byEmail map[string]uuid.UUID
	order   []uuid.UUID // creation order, so code lookups are deterministic
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[uuid.UUID]*Account),
		byEmail: make(map[string]uuid.UUID),
	}
}

func (s *MemoryStore) Create(_ context.Context, a *Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := NormalizeEmail(a.Email)
	if _, exists := s.byEmail[email]; exists {
		return ErrDuplicateEmail
	}

	stored := a.Clone()
	stored.Email = email
	s.byID[stored.ID] = stored
	s.byEmail[email] = stored.ID
	s.order = append(s.order, stored.ID)
	return nil
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetByEmail(_ context.Context, email string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) ConsumeVerificationCode(_ context.Context, code string, now time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		a := s.byID[id]
		if a.Verification == nil || a.Verification.Value != code || !a.Verification.ValidAt(now) {
			continue
		}
		a.MarkVerified(now)
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) SetVerificationCode(_ context.Context, id uuid.UUID, code PendingToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok || a.IsVerified {
		return ErrNotFound
	}
	a.Verification = &code
	a.UpdatedAt = now
	return nil
}

func (s *MemoryStore) SetPasswordReset(_ context.Context, id uuid.UUID, reset PendingToken, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.PasswordReset = &reset
	a.UpdatedAt = now
	return nil
}

func (s *MemoryStore) ConsumePasswordReset(_ context.Context, digest string, now time.Time, passwordHash string) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.order {
		a := s.byID[id]
		if a.PasswordReset == nil || a.PasswordReset.Value != digest || !a.PasswordReset.ValidAt(now) {
			continue
		}
		a.PasswordHash = passwordHash
		a.PasswordReset = nil
		a.UpdatedAt = now
		return a.Clone(), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) RecordLogin(_ context.Context, id uuid.UUID, at time.Time) (*Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	a.LastLogin = &at
	a.UpdatedAt = at
	return a.Clone(), nil
}
