package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
)

// Client is a thin JSON/HTTP adapter over the trade-protocol relay. It
// implements TradeActions and SessionSink and turns the relay's event feed
// into typed Events on a single ordered channel.
type Client struct {
	baseURL    string
	ownerIDs   []string
	httpClient *http.Client
	log        zerolog.Logger

	mu        sync.RWMutex
	apiKey    string
	cursor    string
	pollState json.RawMessage

	events chan Event
}

func NewClient(baseURL string, ownerIDs []string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		ownerIDs:   ownerIDs,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "transport").Logger(),
		events:     make(chan Event, 64),
	}
}

// RestorePollState hands the relay the checkpoint persisted by a previous
// run so polling resumes without reprocessing old offers. The blob is passed
// through verbatim on the next session setup.
func (c *Client) RestorePollState(blob json.RawMessage) {
	c.mu.Lock()
	c.pollState = blob
	c.mu.Unlock()
}

// Events returns the ordered event stream. Closed when Run returns.
func (c *Client) Events() <-chan Event {
	return c.events
}

func (c *Client) SetSessionArtifacts(ctx context.Context, artifacts domain.SessionArtifacts) error {
	c.mu.RLock()
	pollState := c.pollState
	c.mu.RUnlock()
	var resp struct {
		APIKey string `json:"api_key"`
	}
	payload := map[string]interface{}{
		"cookies": artifacts.Cookies,
	}
	if len(pollState) > 0 {
		payload["poll_state"] = pollState
	}
	if err := c.postJSON(ctx, "/session", payload, &resp); err != nil {
		return fmt.Errorf("set session artifacts: %w", err)
	}
	if resp.APIKey == "" {
		return errors.New("set session artifacts: relay returned no api key")
	}
	c.mu.Lock()
	c.apiKey = resp.APIKey
	c.mu.Unlock()
	return nil
}

func (c *Client) APIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.apiKey
}

func (c *Client) Accept(ctx context.Context, offerID string) (AcceptStatus, error) {
	var resp struct {
		Status string `json:"status"`
	}
	if err := c.postJSON(ctx, "/offers/"+offerID+"/accept", nil, &resp); err != nil {
		return "", err
	}
	if resp.Status == string(AcceptPending) {
		return AcceptPending, nil
	}
	return AcceptComplete, nil
}

func (c *Client) Decline(ctx context.Context, offerID string) error {
	return c.postJSON(ctx, "/offers/"+offerID+"/decline", nil, nil)
}

type wireEvent struct {
	Type     string          `json:"type"`
	Offer    *Offer          `json:"offer,omitempty"`
	OldState string          `json:"old_state,omitempty"`
	PollData json.RawMessage `json:"poll_data,omitempty"`
}

// Run polls the relay event feed until ctx is done. Network failures back off
// and retry; a 401 from the feed is surfaced as SessionInvalidated so the
// supervisor can re-authenticate.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	const pollDelay = 2 * time.Second
	for {
		if err := sleep(ctx, pollDelay); err != nil {
			return nil
		}
		batch, unauthorized, err := c.fetchEvents(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("event poll failed")
			continue
		}
		if unauthorized {
			c.emit(ctx, SessionInvalidated{})
			continue
		}
		for _, we := range batch {
			ev, ok := c.decode(we)
			if !ok {
				c.log.Warn().Str("type", we.Type).Msg("unknown transport event")
				continue
			}
			c.emit(ctx, ev)
		}
	}
}

func (c *Client) decode(we wireEvent) (Event, bool) {
	switch we.Type {
	case "offer_arrived":
		if we.Offer == nil {
			return nil, false
		}
		return OfferArrived{Proposal: Adapt(*we.Offer, c.ownerIDs)}, true
	case "offer_changed":
		if we.Offer == nil {
			return nil, false
		}
		return OfferChanged{
			Proposal: Adapt(*we.Offer, c.ownerIDs),
			OldState: domain.ProposalState(we.OldState),
		}, true
	case "poll_data":
		return PollDataChanged{Blob: we.PollData}, true
	case "session_invalidated":
		return SessionInvalidated{}, true
	}
	return nil, false
}

func (c *Client) emit(ctx context.Context, ev Event) {
	select {
	case c.events <- ev:
	case <-ctx.Done():
	}
}

func (c *Client) fetchEvents(ctx context.Context) ([]wireEvent, bool, error) {
	c.mu.RLock()
	key, cursor := c.apiKey, c.cursor
	c.mu.RUnlock()
	if key == "" {
		return nil, false, nil
	}

	url := c.baseURL + "/events?cursor=" + cursor
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, true, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("event feed status %d", resp.StatusCode)
	}

	var body struct {
		Events []wireEvent `json:"events"`
		Cursor string      `json:"cursor"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, false, err
	}
	if body.Cursor != "" {
		c.mu.Lock()
		c.cursor = body.Cursor
		c.mu.Unlock()
	}
	return body.Events, false, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, target interface{}) error {
	var reader *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s: status %d", path, resp.StatusCode)
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
