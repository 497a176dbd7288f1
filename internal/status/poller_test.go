package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
)

type fakeKeys struct{ key string }

func (f *fakeKeys) APIKey() string { return f.key }

type fakeSink struct {
	mu        sync.Mutex
	summaries []domain.OfferSummary
}

func (f *fakeSink) SaveSummary(s domain.OfferSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.summaries)
}

func TestPollSavesSummary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("key"); got != "k-1" {
			t.Errorf("expected api key in query, got %q", got)
		}
		json.NewEncoder(w).Encode(map[string]int{
			"pending_sent_count":     2,
			"pending_received_count": 3,
			"escrow_sent_count":      0,
			"escrow_received_count":  1,
		})
	}))
	defer srv.Close()

	sink := &fakeSink{}
	p := NewPoller(srv.URL, &fakeKeys{key: "k-1"}, sink, time.Minute, zerolog.Nop())
	p.poll(context.Background())

	if sink.count() != 1 {
		t.Fatalf("expected 1 summary, got %d", sink.count())
	}
	got := sink.summaries[0]
	if got.PendingSent != 2 || got.PendingReceived != 3 || got.EscrowReceived != 1 {
		t.Fatalf("unexpected summary %+v", got)
	}
	if got.FetchedAt.IsZero() {
		t.Fatal("expected FetchedAt set")
	}
}

func TestPollSkipsWithoutKey(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()

	sink := &fakeSink{}
	p := NewPoller(srv.URL, &fakeKeys{}, sink, time.Minute, zerolog.Nop())
	p.poll(context.Background())

	if calls != 0 || sink.count() != 0 {
		t.Fatalf("poll before session setup must be a no-op, got %d calls", calls)
	}
}

func TestPollToleratesMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"escrow_sent_count": 1})
	}))
	defer srv.Close()

	sink := &fakeSink{}
	p := NewPoller(srv.URL, &fakeKeys{key: "k-1"}, sink, time.Minute, zerolog.Nop())
	p.poll(context.Background())
	// Missing pending counts: nothing saved, nothing panics.
	if sink.count() != 0 {
		t.Fatalf("malformed response must not be saved, got %d", sink.count())
	}
}

func TestPollToleratesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sink := &fakeSink{}
	p := NewPoller(srv.URL, &fakeKeys{key: "k-1"}, sink, time.Minute, zerolog.Nop())
	p.poll(context.Background())
	if sink.count() != 0 {
		t.Fatal("error response must not be saved")
	}
}
