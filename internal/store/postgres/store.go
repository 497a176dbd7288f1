package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"automatic/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store persists resolutions and events in Postgres. The paused flag and the
// latest offer summary are runtime observability state and stay in memory.
type Store struct {
	db *sql.DB

	mu      sync.RWMutex
	paused  bool
	summary *domain.OfferSummary
}

func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) RecordResolution(rec domain.ResolutionRecord) domain.ResolutionRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	_, _ = s.db.Exec(
		`insert into offer_resolutions(id, offer_id, partner, disposition, outcome, needs_confirmation, cause, created_at)
		 values ($1, $2, $3, $4, $5, $6, $7, $8)
		 on conflict (id) do nothing`,
		rec.ID, rec.OfferID, rec.Partner, string(rec.Disposition),
		string(rec.Outcome.Kind), rec.Outcome.NeedsConfirmation, rec.Outcome.Cause, rec.CreatedAt,
	)
	return rec
}

func (s *Store) ListResolutions(limit int) []domain.ResolutionRecord {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, offer_id, partner, disposition, outcome, needs_confirmation, cause, created_at
		 from offer_resolutions
		 order by created_at desc
		 limit $1`,
		limit,
	)
	if err != nil {
		return []domain.ResolutionRecord{}
	}
	defer rows.Close()

	out := make([]domain.ResolutionRecord, 0, limit)
	for rows.Next() {
		var rec domain.ResolutionRecord
		var disposition, outcome string
		if err := rows.Scan(
			&rec.ID, &rec.OfferID, &rec.Partner, &disposition,
			&outcome, &rec.Outcome.NeedsConfirmation, &rec.Outcome.Cause, &rec.CreatedAt,
		); err != nil {
			continue
		}
		rec.Disposition = domain.Disposition(disposition)
		rec.Outcome.Kind = domain.OutcomeKind(outcome)
		out = append(out, rec)
	}
	return out
}

func (s *Store) AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	_, _ = s.db.Exec(
		`insert into bot_events(id, event_type, payload, created_at)
		 values ($1, $2, $3, $4)`,
		event.ID, string(event.Type), raw, event.CreatedAt,
	)
	return event
}

func (s *Store) ListEvents(limit int) []domain.Event {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`select id, event_type, payload, created_at
		 from bot_events
		 order by created_at desc
		 limit $1`,
		limit,
	)
	if err != nil {
		return []domain.Event{}
	}
	defer rows.Close()

	out := make([]domain.Event, 0, limit)
	for rows.Next() {
		var event domain.Event
		var eventType string
		var raw []byte
		if err := rows.Scan(&event.ID, &eventType, &raw, &event.CreatedAt); err != nil {
			continue
		}
		event.Type = domain.EventType(eventType)
		_ = json.Unmarshal(raw, &event.Payload)
		out = append(out, event)
	}
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
