// Package market integrates the external price/inventory matching service.
// The matching algorithm is the service's business; this client only carries
// proposals over and interprets matched/unmatched answers.
package market

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

// ErrTokenExpired signals that the market service wants a fresh access token
// before the next call.
var ErrTokenExpired = errors.New("market access token expired")

type Client struct {
	baseURL    string
	accessKey  string
	httpClient *http.Client
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
	log        zerolog.Logger

	mu    sync.RWMutex
	token string
}

func NewClient(baseURL, accessKey string, timeout time.Duration, maxRetries int, retryBase, retryMax time.Duration, log zerolog.Logger) *Client {
	if retryBase <= 0 {
		retryBase = 500 * time.Millisecond
	}
	if retryMax <= 0 {
		retryMax = 5 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		accessKey:  accessKey,
		httpClient: &http.Client{Timeout: timeout},
		maxRetries: maxRetries,
		retryBase:  retryBase,
		retryMax:   retryMax,
		log:        log.With().Str("component", "market").Logger(),
	}
}

func (c *Client) EvaluateBuy(ctx context.Context, p domain.TradeProposal) (bool, error) {
	return c.evaluate(ctx, "/evaluate/buy", p)
}

func (c *Client) EvaluateSell(ctx context.Context, p domain.TradeProposal) (bool, error) {
	return c.evaluate(ctx, "/evaluate/sell", p)
}

func (c *Client) evaluate(ctx context.Context, path string, p domain.TradeProposal) (bool, error) {
	var resp struct {
		Matched bool `json:"matched"`
	}
	if err := c.call(ctx, path, p, &resp); err != nil {
		return false, err
	}
	return resp.Matched, nil
}

// Finalize reports a completed matched sell so the market service can update
// its inventory and price bookkeeping.
func (c *Client) Finalize(ctx context.Context, p domain.TradeProposal) error {
	return c.call(ctx, "/finalize", p, nil)
}

// Heartbeat keeps the market-side presence alive and returns the interval to
// wait before the next beat.
func (c *Client) Heartbeat(ctx context.Context) (time.Duration, error) {
	var resp struct {
		NextIntervalSeconds int `json:"next_interval_seconds"`
	}
	if err := c.call(ctx, "/heartbeat", nil, &resp); err != nil {
		return 0, err
	}
	if resp.NextIntervalSeconds <= 0 {
		resp.NextIntervalSeconds = 300
	}
	return time.Duration(resp.NextIntervalSeconds) * time.Second, nil
}

// FetchToken exchanges the long-lived access key for a fresh short-lived
// token after the service signalled expiry.
func (c *Client) FetchToken(ctx context.Context) error {
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.call(ctx, "/token", map[string]string{"access_key": c.accessKey}, &resp); err != nil {
		return fmt.Errorf("fetch market token: %w", err)
	}
	if resp.Token == "" {
		return errors.New("fetch market token: empty token in response")
	}
	c.mu.Lock()
	c.token = resp.Token
	c.mu.Unlock()
	return nil
}

// HeartbeatLoop beats until ctx is done, pacing itself by the interval the
// service returns. A token-expired answer refetches the token and beats
// again immediately; other failures wait out the previous interval.
func (c *Client) HeartbeatLoop(ctx context.Context) error {
	interval := 90 * time.Second
	for {
		next, err := c.Heartbeat(ctx)
		switch {
		case errors.Is(err, ErrTokenExpired):
			c.log.Debug().Msg("market token expired, refetching")
			if err := c.FetchToken(ctx); err != nil {
				c.log.Warn().Err(err).Msg("market token refetch failed")
			} else {
				continue
			}
		case err != nil:
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn().Err(err).Msg("market heartbeat failed")
		default:
			interval = next
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// call posts JSON with bounded retries and exponential backoff. Server-side
// and network failures retry; client-side rejections do not.
func (c *Client) call(ctx context.Context, path string, payload, target interface{}) error {
	var raw []byte
	if payload != nil {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return err
		}
	}

	delay := c.retryBase
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
			if delay > c.retryMax {
				delay = c.retryMax
			}
		}

		err := c.once(ctx, path, raw, target)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTokenExpired) || !retryable(err) {
			return err
		}
		lastErr = err
		c.log.Debug().Err(err).Int("attempt", attempt+1).Str("path", path).Msg("market call failed")
	}
	return fmt.Errorf("%s: retries exhausted: %w", path, lastErr)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("market status %d", e.code)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500
	}
	return true
}

func (c *Client) once(ctx context.Context, path string, raw []byte, target interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Token "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return ErrTokenExpired
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &statusError{code: resp.StatusCode}
	}
	if target == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(target)
}
