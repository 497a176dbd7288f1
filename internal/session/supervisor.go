package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
	"automatic/internal/transport"
)

// Authenticator is the authentication backend surface the supervisor drives.
type Authenticator interface {
	Login(ctx context.Context) domain.AuthResult
	RenewWithToken(ctx context.Context, token string, silent bool) domain.AuthResult
	Probe(ctx context.Context) domain.AuthResult
	ResolveObstacle(ctx context.Context, kind domain.ObstacleKind) domain.AuthResult
}

// Accounts persists account material across restarts.
type Accounts interface {
	Load() (domain.Account, bool, error)
	Save(domain.Account) error
}

// Notifier delivers operator-facing warnings.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// EventRecorder appends session lifecycle events to the history store.
type EventRecorder interface {
	AppendEvent(eventType domain.EventType, payload map[string]interface{}) domain.Event
}

type State string

const (
	StateUnauthenticated State = "UNAUTHENTICATED"
	StateAuthenticating  State = "AUTHENTICATING"
	StateActive          State = "ACTIVE"
	StateRenewing        State = "RENEWING"
	StateDegraded        State = "DEGRADED"
)

// Supervisor keeps the session usable: it performs the startup login, renews
// on a fixed schedule, and reacts to session-invalidated signals from the
// transport. Exactly one renewal or probe sequence runs at a time; triggers
// arriving mid-renewal are dropped because the in-flight attempt supersedes
// them.
type Supervisor struct {
	store    *Store
	auth     Authenticator
	sink     transport.SessionSink
	accounts Accounts
	notifier Notifier
	events   EventRecorder
	log      zerolog.Logger

	relogInterval       time.Duration
	probeRetryDelay     time.Duration
	silentRenewOnExpiry bool

	renewing atomic.Bool
	triggers chan struct{}

	mu          sync.RWMutex
	state       State
	lastRenewal time.Time
}

type SupervisorConfig struct {
	RelogInterval       time.Duration
	ProbeRetryDelay     time.Duration
	SilentRenewOnExpiry bool
}

func NewSupervisor(
	store *Store,
	auth Authenticator,
	sink transport.SessionSink,
	accounts Accounts,
	notifier Notifier,
	events EventRecorder,
	cfg SupervisorConfig,
	log zerolog.Logger,
) *Supervisor {
	if cfg.RelogInterval <= 0 {
		cfg.RelogInterval = time.Hour
	}
	if cfg.ProbeRetryDelay <= 0 {
		cfg.ProbeRetryDelay = 10 * time.Second
	}
	return &Supervisor{
		store:               store,
		auth:                auth,
		sink:                sink,
		accounts:            accounts,
		notifier:            notifier,
		events:              events,
		log:                 log.With().Str("component", "session").Logger(),
		relogInterval:       cfg.RelogInterval,
		probeRetryDelay:     cfg.ProbeRetryDelay,
		silentRenewOnExpiry: cfg.SilentRenewOnExpiry,
		triggers:            make(chan struct{}, 1),
		state:               StateUnauthenticated,
	}
}

// Start performs the initial login and publishes the resulting artifacts to
// the transport. A publish failure here is fatal: the remote API key fetch
// did not happen and no offer handling is possible.
func (s *Supervisor) Start(ctx context.Context) error {
	s.setState(StateAuthenticating)

	account, haveAccount, err := s.accounts.Load()
	if err != nil {
		s.log.Warn().Err(err).Msg("account file unreadable, falling back to interactive login")
	}

	if haveAccount && account.RenewalToken != "" {
		s.log.Info().Msg("logging in with stored renewal token")
		res := s.auth.RenewWithToken(ctx, account.RenewalToken, false)
		if res.Status == domain.AuthOK {
			s.adopt(res.Artifacts)
		} else {
			s.log.Warn().Str("status", string(res.Status)).Msg("token login failed, trying interactive login")
		}
	}
	if _, ok := s.store.Get(); !ok {
		res := s.auth.Login(ctx)
		if res.Status == domain.AuthOK {
			s.adopt(res.Artifacts)
		}
	}

	// Whatever the first attempt produced, converge on a valid session.
	if err := s.ensureLoggedIn(ctx); err != nil {
		return err
	}

	artifacts, ok := s.store.Get()
	if !ok {
		return fmt.Errorf("session supervisor: logged in but no artifacts stored")
	}
	if err := s.sink.SetSessionArtifacts(ctx, artifacts); err != nil {
		return fmt.Errorf("publish session artifacts: %w", err)
	}
	s.setState(StateActive)
	s.log.Info().Msg("session active")
	return nil
}

// Run owns the two renewal triggers: the fixed-interval silent renewal and
// the reactive session-invalidated signal. Returns when ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.relogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.ScheduledRenew(ctx)
		case <-s.triggers:
			s.ReactiveCheck(ctx)
		}
	}
}

// OnSessionInvalidated is called by the event loop when the transport signals
// an invalid session. Dropped if a renewal is already in flight.
func (s *Supervisor) OnSessionInvalidated() {
	if s.renewing.Load() {
		s.log.Debug().Msg("session invalidated signal dropped, renewal in flight")
		return
	}
	select {
	case s.triggers <- struct{}{}:
	default:
	}
}

// ScheduledRenew performs the periodic silent token renewal. Failure is
// non-fatal: the existing session is probed, and only if that also fails is
// the operator warned.
func (s *Supervisor) ScheduledRenew(ctx context.Context) {
	if !s.renewing.CompareAndSwap(false, true) {
		s.log.Debug().Msg("scheduled renewal skipped, renewal in flight")
		return
	}
	defer s.renewing.Store(false)
	s.setState(StateRenewing)
	defer s.setState(StateActive)

	token := s.renewalToken()
	if token == "" {
		s.log.Debug().Msg("no renewal token stored, cannot renew silently")
		return
	}
	s.log.Debug().Msg("renewing session silently")
	res := s.auth.RenewWithToken(ctx, token, true)
	if res.Status == domain.AuthOK {
		s.adopt(res.Artifacts)
		s.publish(ctx)
		s.record(domain.EventSessionRenewed, map[string]interface{}{"trigger": "scheduled"})
		s.log.Debug().Msg("session renewed")
		return
	}

	s.log.Debug().Str("status", string(res.Status)).Msg("silent renewal failed, probing existing session")
	probe := s.auth.Probe(ctx)
	if probe.Status == domain.AuthOK {
		s.log.Debug().Msg("existing session still valid")
		return
	}
	s.record(domain.EventSessionDegraded, map[string]interface{}{
		"renew_status": string(res.Status),
		"probe_status": string(probe.Status),
	})
	s.warn(ctx, "Session renewal failed and the current session no longer probes as valid; operator attention may be required.")
}

// ReactiveCheck handles a session-invalidated signal: probe, repair, and
// retry until the session is valid again. Transient network failures retry
// forever at a fixed delay and never escalate.
func (s *Supervisor) ReactiveCheck(ctx context.Context) {
	if !s.renewing.CompareAndSwap(false, true) {
		s.log.Debug().Msg("reactive check skipped, renewal in flight")
		return
	}
	defer s.renewing.Store(false)
	s.setState(StateRenewing)

	if err := s.ensureLoggedIn(ctx); err != nil {
		return
	}
	s.publish(ctx)
	s.setState(StateActive)
	s.record(domain.EventSessionRenewed, map[string]interface{}{"trigger": "reactive"})
}

// ensureLoggedIn loops probe-and-repair until the session is valid or ctx is
// done. There is no fatal path from session trouble alone.
func (s *Supervisor) ensureLoggedIn(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := s.auth.Probe(ctx)
		switch res.Status {
		case domain.AuthOK:
			return nil
		case domain.AuthTransientError:
			s.setState(StateDegraded)
			s.log.Warn().Err(res.Err).Dur("retry_in", s.probeRetryDelay).Msg("session probe failed")
			if err := sleepCtx(ctx, s.probeRetryDelay); err != nil {
				return err
			}
		case domain.AuthSessionExpired:
			s.log.Warn().Msg("session expired")
			s.relogin(ctx)
		case domain.AuthObstaclePresent:
			s.log.Warn().Str("obstacle", string(res.Obstacle)).Msg("session blocked by obstacle")
			if out := s.auth.ResolveObstacle(ctx, res.Obstacle); out.Status != domain.AuthOK {
				s.log.Warn().Str("status", string(out.Status)).Msg("obstacle resolution failed")
				if err := sleepCtx(ctx, s.probeRetryDelay); err != nil {
					return err
				}
			}
		default:
			s.log.Error().Str("status", string(res.Status)).Msg("unexpected probe result")
			if err := sleepCtx(ctx, s.probeRetryDelay); err != nil {
				return err
			}
		}
	}
}

func (s *Supervisor) relogin(ctx context.Context) {
	if s.silentRenewOnExpiry {
		if token := s.renewalToken(); token != "" {
			res := s.auth.RenewWithToken(ctx, token, true)
			if res.Status == domain.AuthOK {
				s.adopt(res.Artifacts)
				return
			}
			s.log.Warn().Str("status", string(res.Status)).Msg("token renewal failed, falling back to interactive login")
		}
	}
	res := s.auth.Login(ctx)
	if res.Status == domain.AuthOK {
		s.adopt(res.Artifacts)
		return
	}
	if res.Status == domain.AuthInvalidCredentials {
		s.warn(ctx, "Login rejected: stored credentials are invalid. The agent will keep retrying; update credentials to recover.")
	}
	s.log.Warn().Str("status", string(res.Status)).Msg("interactive login failed")
}

// adopt replaces the stored artifacts and persists a fresh renewal token if
// the login produced one.
func (s *Supervisor) adopt(artifacts domain.SessionArtifacts) {
	s.store.Replace(artifacts)
	s.mu.Lock()
	s.lastRenewal = time.Now().UTC()
	s.mu.Unlock()
	if artifacts.RenewalToken == "" {
		return
	}
	account, _, err := s.accounts.Load()
	if err == nil {
		account.RenewalToken = artifacts.RenewalToken
		account.UpdatedAt = time.Now().UTC()
		if err := s.accounts.Save(account); err != nil {
			s.log.Warn().Err(err).Msg("could not persist renewal token")
		}
	}
}

// publish pushes the current artifacts to the transport. After startup this
// is best-effort: the transport keeps working on its previous key until the
// next renewal.
func (s *Supervisor) publish(ctx context.Context) {
	artifacts, ok := s.store.Get()
	if !ok {
		return
	}
	if err := s.sink.SetSessionArtifacts(ctx, artifacts); err != nil {
		s.log.Warn().Err(err).Msg("could not publish renewed artifacts to transport")
	}
}

func (s *Supervisor) renewalToken() string {
	if artifacts, ok := s.store.Get(); ok && artifacts.RenewalToken != "" {
		return artifacts.RenewalToken
	}
	account, ok, err := s.accounts.Load()
	if err != nil || !ok {
		return ""
	}
	return account.RenewalToken
}

func (s *Supervisor) warn(ctx context.Context, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.log.Warn().Err(err).Msg("operator notification failed")
	}
}

func (s *Supervisor) record(eventType domain.EventType, payload map[string]interface{}) {
	if s.events == nil {
		return
	}
	s.events.AppendEvent(eventType, payload)
}

func (s *Supervisor) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Status reports the current state and last successful renewal time.
func (s *Supervisor) Status() (State, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.lastRenewal
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
