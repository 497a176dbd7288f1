package session

import (
	"sync"

	"automatic/internal/domain"
)

// Store holds the current session artifacts. Replace is atomic: readers see
// either the previous artifacts or the new ones, never a mix. No retry or
// renewal logic lives here.
type Store struct {
	mu        sync.RWMutex
	artifacts *domain.SessionArtifacts
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Get() (domain.SessionArtifacts, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.artifacts == nil {
		return domain.SessionArtifacts{}, false
	}
	return *s.artifacts, true
}

func (s *Store) Replace(artifacts domain.SessionArtifacts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = &artifacts
}
