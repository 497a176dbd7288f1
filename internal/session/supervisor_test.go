package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"automatic/internal/domain"
	"automatic/internal/store/memory"
)

func okArtifacts() domain.SessionArtifacts {
	return domain.SessionArtifacts{
		Cookies:      []string{"sessionid=abc"},
		RenewalToken: "renew-1",
		ValidSince:   time.Now().UTC(),
	}
}

type fakeAuth struct {
	mu         sync.Mutex
	probeQueue []domain.AuthResult
	probeCalls int

	loginResult domain.AuthResult
	loginCalls  int

	renewResult  domain.AuthResult
	renewCalls   int
	renewStarted chan struct{}
	renewBlock   chan struct{}
}

func (f *fakeAuth) Login(ctx context.Context) domain.AuthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	return f.loginResult
}

func (f *fakeAuth) RenewWithToken(ctx context.Context, token string, silent bool) domain.AuthResult {
	f.mu.Lock()
	f.renewCalls++
	started := f.renewStarted
	block := f.renewBlock
	res := f.renewResult
	f.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if block != nil {
		<-block
	}
	return res
}

func (f *fakeAuth) Probe(ctx context.Context) domain.AuthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probeCalls++
	if len(f.probeQueue) == 0 {
		return domain.AuthResult{Status: domain.AuthOK}
	}
	res := f.probeQueue[0]
	f.probeQueue = f.probeQueue[1:]
	return res
}

func (f *fakeAuth) ResolveObstacle(ctx context.Context, kind domain.ObstacleKind) domain.AuthResult {
	return domain.AuthResult{Status: domain.AuthOK}
}

func (f *fakeAuth) counts() (login, renew, probe int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loginCalls, f.renewCalls, f.probeCalls
}

type fakeSink struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSink) SetSessionArtifacts(ctx context.Context, artifacts domain.SessionArtifacts) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

func (f *fakeSink) APIKey() string { return "key" }

type fakeAccounts struct {
	mu      sync.Mutex
	account domain.Account
	present bool
	saves   int
}

func (f *fakeAccounts) Load() (domain.Account, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.account, f.present, nil
}

func (f *fakeAccounts) Save(account domain.Account) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.account = account
	f.saves++
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (f *fakeNotifier) Notify(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

type harness struct {
	sup      *Supervisor
	auth     *fakeAuth
	sink     *fakeSink
	accounts *fakeAccounts
	notifier *fakeNotifier
	events   *memory.Store
}

func newHarness(auth *fakeAuth, accounts *fakeAccounts) *harness {
	sink := &fakeSink{}
	notifier := &fakeNotifier{}
	events := memory.NewStore()
	sup := NewSupervisor(
		NewStore(), auth, sink, accounts, notifier, events,
		SupervisorConfig{
			RelogInterval:       time.Hour,
			ProbeRetryDelay:     time.Millisecond,
			SilentRenewOnExpiry: true,
		},
		zerolog.Nop(),
	)
	return &harness{sup: sup, auth: auth, sink: sink, accounts: accounts, notifier: notifier, events: events}
}

func TestStartWithStoredTokenRenewsSilently(t *testing.T) {
	auth := &fakeAuth{renewResult: domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()}}
	accounts := &fakeAccounts{account: domain.Account{Username: "op", RenewalToken: "stored"}, present: true}
	h := newHarness(auth, accounts)

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	login, renew, _ := auth.counts()
	if login != 0 || renew != 1 {
		t.Fatalf("expected token-first login, got login=%d renew=%d", login, renew)
	}
	if h.sink.calls != 1 {
		t.Fatalf("expected one artifact publish, got %d", h.sink.calls)
	}
	if state, _ := h.sup.Status(); state != StateActive {
		t.Fatalf("expected Active, got %s", state)
	}
	if _, ok := h.sup.store.Get(); !ok {
		t.Fatal("expected artifacts in store")
	}
}

func TestStartFallsBackToInteractiveLogin(t *testing.T) {
	auth := &fakeAuth{
		renewResult: domain.AuthResult{Status: domain.AuthSessionExpired},
		loginResult: domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()},
	}
	accounts := &fakeAccounts{account: domain.Account{RenewalToken: "stale"}, present: true}
	h := newHarness(auth, accounts)

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	login, _, _ := auth.counts()
	if login != 1 {
		t.Fatalf("expected interactive fallback, got %d logins", login)
	}
}

func TestStartPublishFailureIsFatal(t *testing.T) {
	auth := &fakeAuth{loginResult: domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()}}
	h := newHarness(auth, &fakeAccounts{})
	h.sink.err = errors.New("api key fetch failed")

	if err := h.sup.Start(context.Background()); err == nil {
		t.Fatal("expected fatal error when artifact publish fails")
	}
}

func TestTransientProbeFailuresRetryWithoutReprompt(t *testing.T) {
	transient := domain.AuthResult{Status: domain.AuthTransientError, Err: errors.New("timeout")}
	auth := &fakeAuth{probeQueue: []domain.AuthResult{transient, transient, transient, {Status: domain.AuthOK}}}
	h := newHarness(auth, &fakeAccounts{})

	h.sup.ReactiveCheck(context.Background())

	login, renew, probe := auth.counts()
	if login != 0 || renew != 0 {
		t.Fatalf("transient failures must not re-prompt, got login=%d renew=%d", login, renew)
	}
	if probe != 4 {
		t.Fatalf("expected 4 probes, got %d", probe)
	}
	if state, _ := h.sup.Status(); state != StateActive {
		t.Fatalf("expected Active after recovery, got %s", state)
	}
}

func TestConcurrentTriggersCoalesceToSingleRenewal(t *testing.T) {
	auth := &fakeAuth{
		renewResult:  domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()},
		renewStarted: make(chan struct{}, 1),
		renewBlock:   make(chan struct{}),
	}
	accounts := &fakeAccounts{account: domain.Account{RenewalToken: "stored"}, present: true}
	h := newHarness(auth, accounts)

	done := make(chan struct{})
	go func() {
		h.sup.ScheduledRenew(context.Background())
		close(done)
	}()
	<-auth.renewStarted

	// Reactive trigger arriving mid-renewal is dropped, not queued.
	h.sup.OnSessionInvalidated()
	if len(h.sup.triggers) != 0 {
		t.Fatal("trigger must be dropped while a renewal is in flight")
	}
	// A concurrent direct check is also coalesced away.
	h.sup.ReactiveCheck(context.Background())

	close(auth.renewBlock)
	<-done

	login, renew, probe := auth.counts()
	if renew != 1 {
		t.Fatalf("expected exactly one authentication call, got %d", renew)
	}
	if login != 0 || probe != 0 {
		t.Fatalf("expected no extra auth traffic, got login=%d probe=%d", login, probe)
	}
}

func TestScheduledRenewFailureFallsBackToProbe(t *testing.T) {
	auth := &fakeAuth{
		renewResult: domain.AuthResult{Status: domain.AuthTransientError, Err: errors.New("down")},
		probeQueue:  []domain.AuthResult{{Status: domain.AuthOK}},
	}
	accounts := &fakeAccounts{account: domain.Account{RenewalToken: "stored"}, present: true}
	h := newHarness(auth, accounts)

	h.sup.ScheduledRenew(context.Background())

	if h.notifier.count() != 0 {
		t.Fatalf("usable session must not warn the operator, got %v", h.notifier.msgs)
	}
}

func TestScheduledRenewWarnsWhenSessionAlsoDead(t *testing.T) {
	auth := &fakeAuth{
		renewResult: domain.AuthResult{Status: domain.AuthTransientError, Err: errors.New("down")},
		probeQueue:  []domain.AuthResult{{Status: domain.AuthSessionExpired}},
	}
	accounts := &fakeAccounts{account: domain.Account{RenewalToken: "stored"}, present: true}
	h := newHarness(auth, accounts)

	h.sup.ScheduledRenew(context.Background())

	if h.notifier.count() != 1 {
		t.Fatalf("expected one operator warning, got %d", h.notifier.count())
	}
	events := h.events.ListEvents(10)
	if len(events) != 1 || events[0].Type != domain.EventSessionDegraded {
		t.Fatalf("expected SessionDegraded event, got %+v", events)
	}
}

func TestExpiredSessionPrefersSilentTokenRenewal(t *testing.T) {
	auth := &fakeAuth{
		probeQueue:  []domain.AuthResult{{Status: domain.AuthSessionExpired}, {Status: domain.AuthOK}},
		renewResult: domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()},
	}
	accounts := &fakeAccounts{account: domain.Account{RenewalToken: "stored"}, present: true}
	h := newHarness(auth, accounts)

	h.sup.ReactiveCheck(context.Background())

	login, renew, _ := auth.counts()
	if login != 0 || renew != 1 {
		t.Fatalf("expected silent token renewal, got login=%d renew=%d", login, renew)
	}
}

func TestObstacleIsResolvedThenReprobed(t *testing.T) {
	auth := &fakeAuth{
		probeQueue: []domain.AuthResult{
			{Status: domain.AuthObstaclePresent, Obstacle: domain.ObstacleFamilyLock},
			{Status: domain.AuthOK},
		},
	}
	h := newHarness(auth, &fakeAccounts{})

	h.sup.ReactiveCheck(context.Background())

	_, _, probe := auth.counts()
	if probe != 2 {
		t.Fatalf("expected re-probe after obstacle resolution, got %d probes", probe)
	}
	if state, _ := h.sup.Status(); state != StateActive {
		t.Fatalf("expected Active, got %s", state)
	}
}

func TestRenewalTokenIsPersistedOnAdopt(t *testing.T) {
	auth := &fakeAuth{loginResult: domain.AuthResult{Status: domain.AuthOK, Artifacts: okArtifacts()}}
	accounts := &fakeAccounts{present: true}
	h := newHarness(auth, accounts)

	if err := h.sup.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	accounts.mu.Lock()
	defer accounts.mu.Unlock()
	if accounts.saves == 0 || accounts.account.RenewalToken != "renew-1" {
		t.Fatalf("expected renewal token persisted, got %+v after %d saves", accounts.account, accounts.saves)
	}
}
