package memory

import (
	"testing"

	"automatic/internal/domain"
)

func TestRecordAndListResolutions(t *testing.T) {
	store := NewStore()
	rec := store.RecordResolution(domain.ResolutionRecord{
		OfferID:     "offer-1",
		Partner:     "76561198000000001",
		Disposition: domain.DispositionAcceptOwner,
		Outcome:     domain.ResolutionOutcome{Kind: domain.OutcomeAccepted},
	})
	if rec.ID == "" {
		t.Fatal("expected generated resolution id")
	}
	if rec.CreatedAt.IsZero() {
		t.Fatal("expected created_at to be set")
	}
	list := store.ListResolutions(10)
	if len(list) != 1 || list[0].OfferID != "offer-1" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestListResolutionsNewestFirst(t *testing.T) {
	store := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		store.RecordResolution(domain.ResolutionRecord{OfferID: id})
	}
	list := store.ListResolutions(2)
	if len(list) != 2 || list[0].OfferID != "c" || list[1].OfferID != "b" {
		t.Fatalf("expected newest first, got %+v", list)
	}
}

func TestPauseFlag(t *testing.T) {
	store := NewStore()
	if store.IsPaused() {
		t.Fatal("expected unpaused by default")
	}
	store.SetPaused(true)
	if !store.IsPaused() {
		t.Fatal("expected paused")
	}
}

func TestSummaryRoundTrip(t *testing.T) {
	store := NewStore()
	if _, ok := store.LastSummary(); ok {
		t.Fatal("expected no summary initially")
	}
	store.SaveSummary(domain.OfferSummary{PendingReceived: 3, EscrowSent: 1})
	summary, ok := store.LastSummary()
	if !ok || summary.PendingReceived != 3 || summary.EscrowSent != 1 {
		t.Fatalf("unexpected summary: %+v ok=%v", summary, ok)
	}
}
