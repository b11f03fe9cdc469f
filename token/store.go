package token

import (
	"sync"
)

// Store is the process-wide map of live tokens, keyed by their rendered
// wire value. It is a pure data structure: no expiry evaluation and no
// authorization logic happen here, callers decide both. Safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	tokens map[string]*FileToken
}

func NewStore() *Store {
	return &Store{
		tokens: make(map[string]*FileToken),
	}
}

// Put inserts or overwrites the record under its wire value.
func (s *Store) Put(t *FileToken) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[t.Value] = t
}

// Get returns the record stored under key, or nil.
func (s *Store) Get(key string) *FileToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tokens[key]
}

// Remove deletes the record stored under key. Removing an absent key is
// not an error.
func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
}

// FindByUserAndFile returns the record matching both fields, or nil. The
// working set is interactive editing sessions, so a linear scan is fine.
func (s *Store) FindByUserAndFile(user, fileID string) *FileToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.User == user && t.FileID == fileID {
			return t
		}
	}
	return nil
}

// Len returns the number of live records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens)
}
