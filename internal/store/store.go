package store

import "automatic/internal/domain"

// Store is the runtime history contract shared by the engine, the session
// supervisor, the status poller, and the ops API.
type Store interface {
	RecordResolution(rec domain.ResolutionRecord) domain.ResolutionRecord
	ListResolutions(limit int) []domain.ResolutionRecord

	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
	ListEvents(limit int) []domain.Event

	SetPaused(paused bool)
	IsPaused() bool

	SaveSummary(summary domain.OfferSummary)
	LastSummary() (domain.OfferSummary, bool)
}
