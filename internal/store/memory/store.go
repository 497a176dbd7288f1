package memory

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"automatic/internal/domain"
)

type Store struct {
	mu sync.RWMutex

	paused bool

	resolutions []domain.ResolutionRecord
	events      []domain.Event

	summary *domain.OfferSummary
}

func NewStore() *Store {
	return &Store{
		resolutions: make([]domain.ResolutionRecord, 0, 256),
		events:      make([]domain.Event, 0, 256),
	}
}

func (s *Store) RecordResolution(rec domain.ResolutionRecord) domain.ResolutionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.resolutions = append(s.resolutions, rec)
	return rec
}

func (s *Store) ListResolutions(limit int) []domain.ResolutionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.resolutions) == 0 {
		return []domain.ResolutionRecord{}
	}
	start := max(len(s.resolutions)-limit, 0)
	out := slices.Clone(s.resolutions[start:])
	slices.Reverse(out)
	return out
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	s.events = append(s.events, event)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 20
	}
	if len(s.events) == 0 {
		return []domain.Event{}
	}
	start := max(len(s.events)-limit, 0)
	out := slices.Clone(s.events[start:])
	slices.Reverse(out)
	return out
}

func (s *Store) SetPaused(paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = paused
}

func (s *Store) IsPaused() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused
}

func (s *Store) SaveSummary(summary domain.OfferSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summary = &summary
}

func (s *Store) LastSummary() (domain.OfferSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.summary == nil {
		return domain.OfferSummary{}, false
	}
	return *s.summary, true
}
