// Package auth talks to the authentication backend over HTTPS. The wire
// shape is owned by the backend; this client maps its responses onto the
// typed AuthResult variants the supervisor understands.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"automatic/internal/domain"
)

// CredentialSource supplies account credentials on demand. The interactive
// prompt lives outside the core; tests and the CLI provide their own.
type CredentialSource interface {
	Credentials(ctx context.Context) (username, password string, err error)
}

type Client struct {
	baseURL     string
	obstaclePIN string
	httpClient  *http.Client
	limiter     *rate.Limiter
	creds       CredentialSource
	log         zerolog.Logger
}

// NewClient builds an authenticator. Login and renewal attempts are
// rate-limited to one per rateInterval; the backend throttles aggressive
// login traffic and a throttled account is worse than a slow retry.
func NewClient(baseURL, obstaclePIN string, timeout, rateInterval time.Duration, creds CredentialSource, log zerolog.Logger) *Client {
	if rateInterval <= 0 {
		rateInterval = 5 * time.Second
	}
	return &Client{
		baseURL:     baseURL,
		obstaclePIN: obstaclePIN,
		httpClient:  &http.Client{Timeout: timeout},
		limiter:     rate.NewLimiter(rate.Every(rateInterval), 1),
		creds:       creds,
		log:         log.With().Str("component", "auth").Logger(),
	}
}

type sessionResponse struct {
	Cookies      []string `json:"cookies"`
	RenewalToken string   `json:"renewal_token"`
}

// Login performs a full credential login. Credential rejection is terminal;
// everything network-shaped is transient and retried by the caller.
func (c *Client) Login(ctx context.Context) domain.AuthResult {
	username, password, err := c.creds.Credentials(ctx)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: fmt.Errorf("credential source: %w", err)}
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	return c.sessionCall(ctx, "/login", map[string]string{
		"username": username,
		"password": password,
	}, domain.AuthInvalidCredentials)
}

// RenewWithToken exchanges the long-lived renewal token for fresh artifacts.
// silent suppresses the logged-in notice for background renewals.
func (c *Client) RenewWithToken(ctx context.Context, token string, silent bool) domain.AuthResult {
	if err := c.limiter.Wait(ctx); err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	res := c.sessionCall(ctx, "/renew", map[string]string{"token": token}, domain.AuthSessionExpired)
	if res.Status == domain.AuthOK {
		if silent {
			c.log.Debug().Msg("session renewed from token")
		} else {
			c.log.Info().Msg("logged in with renewal token")
		}
	}
	return res
}

// Probe is the cheap liveness check: valid, expired, obstacle, or failed.
func (c *Client) Probe(ctx context.Context) domain.AuthResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/probe", nil)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: fmt.Errorf("probe status %d", resp.StatusCode)}
	}
	var body struct {
		LoggedIn bool   `json:"logged_in"`
		Obstacle string `json:"obstacle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	if !body.LoggedIn {
		return domain.AuthResult{Status: domain.AuthSessionExpired}
	}
	if body.Obstacle != "" {
		return domain.AuthResult{
			Status:   domain.AuthObstaclePresent,
			Obstacle: domain.ObstacleKind(body.Obstacle),
		}
	}
	return domain.AuthResult{Status: domain.AuthOK}
}

// ResolveObstacle clears a secondary gate such as the family lock.
func (c *Client) ResolveObstacle(ctx context.Context, kind domain.ObstacleKind) domain.AuthResult {
	raw, err := json.Marshal(map[string]string{
		"kind": string(kind),
		"pin":  c.obstaclePIN,
	})
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/unlock", bytes.NewReader(raw))
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: fmt.Errorf("unlock status %d", resp.StatusCode)}
	}
	c.log.Info().Str("obstacle", string(kind)).Msg("obstacle resolved")
	return domain.AuthResult{Status: domain.AuthOK}
}

// sessionCall posts a login-shaped request and maps the response: 2xx with a
// cookie set is success, 401 is the caller-chosen terminal status, anything
// else is transient.
func (c *Client) sessionCall(ctx context.Context, path string, payload map[string]string, rejected domain.AuthStatus) domain.AuthResult {
	raw, err := json.Marshal(payload)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return domain.AuthResult{Status: rejected}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: fmt.Errorf("%s status %d", path, resp.StatusCode)}
	}
	var body sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: err}
	}
	if len(body.Cookies) == 0 {
		return domain.AuthResult{Status: domain.AuthTransientError, Err: fmt.Errorf("%s returned no cookies", path)}
	}
	return domain.AuthResult{
		Status: domain.AuthOK,
		Artifacts: domain.SessionArtifacts{
			Cookies:      body.Cookies,
			RenewalToken: body.RenewalToken,
			ValidSince:   time.Now().UTC(),
		},
	}
}
