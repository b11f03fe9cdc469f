package rights

import (
	"context"
	"sync"
)

// Static is an in-memory resolver with explicit per-user grants. It is
// the development and test implementation; grants can be flipped at
// runtime, which is how revocation mid-session is exercised.
type Static struct {
	mu   sync.RWMutex
	view map[string]map[string]bool // user -> fileID -> granted
	edit map[string]map[string]bool
}

var _ Resolver = (*Static)(nil)

func NewStatic() *Static {
	return &Static{
		view: make(map[string]map[string]bool),
		edit: make(map[string]map[string]bool),
	}
}

// GrantView allows user to view fileID.
func (s *Static) GrantView(user, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant(s.view, user, fileID)
}

// GrantEdit allows user to edit fileID. Edit does not imply view; grant
// both when a user should open the file at all.
func (s *Static) GrantEdit(user, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant(s.edit, user, fileID)
}

// RevokeView withdraws the view grant.
func (s *Static) RevokeView(user, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.view[user], fileID)
}

// RevokeEdit withdraws the edit grant.
func (s *Static) RevokeEdit(user, fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.edit[user], fileID)
}

func (s *Static) CanView(ctx context.Context, user, fileID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view[user][fileID], nil
}

func (s *Static) CanEdit(ctx context.Context, user, fileID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edit[user][fileID], nil
}

func grant(m map[string]map[string]bool, user, fileID string) {
	if m[user] == nil {
		m[user] = make(map[string]bool)
	}
	m[user][fileID] = true
}
