// Package status polls the aggregate offer-count endpoint for observability.
// It is independent of the decision path: failures are logged and the next
// tick proceeds regardless.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
)

// KeyProvider supplies the access key for the status endpoint, empty until
// the session setup completed.
type KeyProvider interface {
	APIKey() string
}

// SummarySink stores the latest snapshot for the ops dashboard.
type SummarySink interface {
	SaveSummary(domain.OfferSummary)
}

type Poller struct {
	endpoint   string
	keys       KeyProvider
	sink       SummarySink
	interval   time.Duration
	httpClient *http.Client
	log        zerolog.Logger
}

func NewPoller(endpoint string, keys KeyProvider, sink SummarySink, interval time.Duration, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	return &Poller{
		endpoint:   endpoint,
		keys:       keys,
		sink:       sink,
		interval:   interval,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        log.With().Str("component", "status").Logger(),
	}
}

// Run polls once immediately and then on every interval tick until ctx is
// done.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	key := p.keys.APIKey()
	if key == "" {
		// Session setup has not produced a key yet.
		p.log.Debug().Msg("no api key available, skipping offer count poll")
		return
	}

	summary, err := p.fetch(ctx, key)
	if err != nil {
		p.log.Warn().Err(err).Msg("could not count offers")
		return
	}
	p.sink.SaveSummary(summary)
	p.log.Debug().
		Int("pending_received", summary.PendingReceived).
		Int("escrow_received", summary.EscrowReceived).
		Int("pending_sent", summary.PendingSent).
		Int("escrow_sent", summary.EscrowSent).
		Msg("offer counts")
}

func (p *Poller) fetch(ctx context.Context, key string) (domain.OfferSummary, error) {
	url := p.endpoint + "?key=" + key
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.OfferSummary{}, err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.OfferSummary{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.OfferSummary{}, fmt.Errorf("status endpoint returned %d", resp.StatusCode)
	}

	var body struct {
		PendingSent     *int `json:"pending_sent_count"`
		PendingReceived *int `json:"pending_received_count"`
		EscrowSent      *int `json:"escrow_sent_count"`
		EscrowReceived  *int `json:"escrow_received_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.OfferSummary{}, fmt.Errorf("malformed response: %w", err)
	}
	if body.PendingSent == nil || body.PendingReceived == nil {
		return domain.OfferSummary{}, fmt.Errorf("malformed response: missing counts")
	}
	summary := domain.OfferSummary{
		PendingSent:     *body.PendingSent,
		PendingReceived: *body.PendingReceived,
		FetchedAt:       time.Now().UTC(),
	}
	if body.EscrowSent != nil {
		summary.EscrowSent = *body.EscrowSent
	}
	if body.EscrowReceived != nil {
		summary.EscrowReceived = *body.EscrowReceived
	}
	return summary, nil
}
