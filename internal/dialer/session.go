package dialer

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/observability"
	"github.com/brightdesk/dialtone/internal/provider"
	"github.com/brightdesk/dialtone/internal/token"
)

const renewRequestTimeout = 10 * time.Second

// Config carries the scheduler timings for one session.
type Config struct {
	RenewInterval       time.Duration
	HealthCheckInterval time.Duration
	MaxTokenAge         time.Duration
	ReinitDelay         time.Duration
	// TickInterval is the call duration tick, one second in production.
	TickInterval time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RenewInterval <= 0 {
		out.RenewInterval = 30 * time.Minute
	}
	if out.HealthCheckInterval <= 0 {
		out.HealthCheckInterval = 5 * time.Minute
	}
	if out.MaxTokenAge <= 0 {
		out.MaxTokenAge = 55 * time.Minute
	}
	if out.ReinitDelay <= 0 {
		out.ReinitDelay = time.Second
	}
	if out.TickInterval <= 0 {
		out.TickInterval = time.Second
	}
	return out
}

// Session keeps one workspace's signaling endpoint registered and drives the
// lifecycle of its single call slot. All state mutations are serialized under
// one mutex; asynchronous results carry a generation snapshot and are
// discarded when the session was destroyed underneath them.
type Session struct {
	workspaceID string
	provider    provider.Provider
	tokens      token.Source
	recorder    calllog.Recorder
	metrics     *observability.Metrics
	cfg         Config

	mu           sync.Mutex
	state        State
	errMsg       string
	initializing bool
	recovering   bool
	renewing     bool
	gen          int
	credential   token.Credential
	lastRenewal  time.Time
	endpoint     provider.Endpoint
	call         *Call
	stopTimers   chan struct{}
	reinitTimer  *time.Timer

	subMu   sync.Mutex
	subs    map[int]chan Update
	nextSub int
}

func NewSession(workspaceID string, prov provider.Provider, tokens token.Source, recorder calllog.Recorder, metrics *observability.Metrics, cfg Config) *Session {
	return &Session{
		workspaceID: workspaceID,
		provider:    prov,
		tokens:      tokens,
		recorder:    recorder,
		metrics:     metrics,
		cfg:         cfg.withDefaults(),
		state:       StateUninitialized,
		subs:        make(map[int]chan Update),
	}
}

// Initialize requests a credential, registers the endpoint and starts the
// renewal scheduler. It is a no-op while an earlier attempt is still in
// flight or the session is already ready.
func (s *Session) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.initializing || s.state == StateConnecting || s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	s.initializing = true
	s.state = StateConnecting
	s.errMsg = ""
	gen := s.gen
	s.mu.Unlock()
	s.notifyStatus()

	cred, err := s.tokens.SignalingToken(ctx, s.workspaceID)
	if err != nil {
		wrapped := fmt.Errorf("request signaling token: %w", err)
		s.failInitialize(gen, wrapped)
		return wrapped
	}

	ep, err := s.provider.NewEndpoint(ctx, cred.Token)
	if err != nil {
		wrapped := fmt.Errorf("create endpoint: %w", err)
		s.failInitialize(gen, wrapped)
		return wrapped
	}
	go s.watchEndpoint(ep, gen)

	if err := ep.Register(ctx); err != nil {
		_ = ep.Destroy()
		wrapped := fmt.Errorf("register endpoint: %w", err)
		s.failInitialize(gen, wrapped)
		return wrapped
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		_ = ep.Destroy()
		return ErrDestroyed
	}
	s.initializing = false
	s.recovering = false
	s.state = StateReady
	s.credential = cred
	s.lastRenewal = time.Now().UTC()
	s.endpoint = ep
	s.stopTimers = make(chan struct{})
	stop := s.stopTimers
	s.mu.Unlock()

	s.startRenewalTimers(gen, stop)
	s.observeSessionEvent("registered")
	s.notifyStatus()
	return nil
}

func (s *Session) failInitialize(gen int, err error) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.initializing = false
	s.recovering = false
	s.state = StateError
	s.errMsg = err.Error()
	s.mu.Unlock()
	s.observeSessionEvent("init_failed")
	s.notifyStatus()
}

// Destroy cancels every scheduler timer, tears down the call slot and
// disposes the endpoint. Safe to call repeatedly and from any state.
func (s *Session) Destroy() {
	s.mu.Lock()
	stop, ep, c, already := s.teardownLocked()
	s.mu.Unlock()

	s.finishTeardown(stop, ep, c)
	if !already {
		s.observeSessionEvent("destroyed")
		s.notifyStatus()
	}
}

// teardownLocked invalidates the generation and strips the session of its
// timers, endpoint and call slot. The caller holds the lock and must pass the
// returned handles to finishTeardown after releasing it.
func (s *Session) teardownLocked() (stop chan struct{}, ep provider.Endpoint, c *Call, already bool) {
	s.gen++
	s.initializing = false
	s.renewing = false
	s.recovering = false
	if s.reinitTimer != nil {
		s.reinitTimer.Stop()
		s.reinitTimer = nil
	}
	stop = s.stopTimers
	s.stopTimers = nil
	ep = s.endpoint
	s.endpoint = nil
	c = s.call
	s.call = nil
	already = s.state == StateDestroyed
	s.state = StateDestroyed
	s.errMsg = ""
	s.credential = token.Credential{}
	s.lastRenewal = time.Time{}
	return stop, ep, c, already
}

func (s *Session) finishTeardown(stop chan struct{}, ep provider.Endpoint, c *Call) {
	if stop != nil {
		close(stop)
	}
	s.teardownCall(c)
	if ep != nil {
		_ = ep.Unregister()
		_ = ep.Destroy()
	}
}

func (s *Session) watchEndpoint(ep provider.Endpoint, gen int) {
	for ev := range ep.Events() {
		switch ev.Type {
		case provider.EventError:
			s.handleEndpointError(gen, ev)
		case provider.EventTokenWillExpire:
			s.renew(gen, TriggerProviderPush)
		case provider.EventIncoming:
			s.handleIncoming(gen, ev.Call)
		}
	}
}

func (s *Session) handleEndpointError(gen int, ev provider.Event) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.observeProviderError(ev.Code)
	if ev.Code == provider.CodeTokenExpired {
		s.recoverFromExpiry(gen)
		return
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.gen++
	s.initializing = false
	s.renewing = false
	if s.reinitTimer != nil {
		s.reinitTimer.Stop()
		s.reinitTimer = nil
	}
	stop := s.stopTimers
	s.stopTimers = nil
	ep := s.endpoint
	s.endpoint = nil
	c := s.call
	s.call = nil
	s.state = StateError
	s.errMsg = ev.Message
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.teardownCall(c)
	if ep != nil {
		_ = ep.Unregister()
		_ = ep.Destroy()
	}
	log.Printf("dialer: endpoint error (workspace=%s code=%d): %s", s.workspaceID, ev.Code, ev.Message)
	s.publish(Update{Kind: UpdateError, ErrorCode: ev.Code, ErrorDetail: ev.Message})
	s.notifyStatus()
}

// recoverFromExpiry handles the reserved token-expired code: the session
// restarts itself after a short delay instead of surfacing a hard failure.
// The teardown, the recovery flag and the timer's generation are committed in
// one critical section, so a Destroy arriving at any point bumps the
// generation past newGen and the timer no-ops.
func (s *Session) recoverFromExpiry(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	stop, ep, c, _ := s.teardownLocked()
	newGen := s.gen
	s.recovering = true
	s.reinitTimer = time.AfterFunc(s.cfg.ReinitDelay, func() {
		s.mu.Lock()
		s.reinitTimer = nil
		stale := newGen != s.gen
		s.mu.Unlock()
		if stale {
			return
		}
		if err := s.Initialize(context.Background()); err != nil {
			log.Printf("dialer: session restart failed (workspace=%s): %v", s.workspaceID, err)
		}
	})
	s.mu.Unlock()

	s.finishTeardown(stop, ep, c)
	log.Printf("dialer: signaling token expired (workspace=%s), restarting session", s.workspaceID)
	s.observeSessionEvent("token_expired")
	s.notifyStatus()
}

func (s *Session) WorkspaceID() string { return s.workspaceID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Status() ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Session) statusLocked() ConnectionStatus {
	switch {
	case s.state == StateReady && s.renewing:
		return StatusReconnecting
	case s.state == StateReady:
		return StatusConnected
	case s.state == StateConnecting && s.recovering:
		return StatusReconnecting
	case s.state == StateConnecting:
		return StatusConnecting
	case s.recovering:
		return StatusReconnecting
	default:
		return StatusDisconnected
	}
}

// LastRenewal reports when the credential was last swapped successfully.
func (s *Session) LastRenewal() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRenewal
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		WorkspaceID: s.workspaceID,
		State:       s.state,
		Status:      s.statusLocked(),
		Error:       s.errMsg,
		LastRenewal: s.lastRenewal,
		Call:        s.callInfoLocked(),
	}
	s.mu.Unlock()
	return snap
}

// Subscribe registers an update channel. Slow consumers lose updates rather
// than block state transitions.
func (s *Session) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
		s.subMu.Unlock()
	}
	return ch, cancel
}

func (s *Session) publish(u Update) {
	u.WorkspaceID = s.workspaceID
	s.subMu.Lock()
	for _, ch := range s.subs {
		select {
		case ch <- u:
		default:
		}
	}
	s.subMu.Unlock()
}

func (s *Session) notifyStatus() {
	s.mu.Lock()
	u := Update{Kind: UpdateStatus, Status: s.statusLocked(), SessionState: s.state}
	s.mu.Unlock()
	s.publish(u)
}

func (s *Session) notifyCall() {
	info := s.CallInfo()
	s.publish(Update{Kind: UpdateCall, Call: &info})
}

func (s *Session) observeSessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Session) observeRenewal(trigger, outcome string) {
	if s.metrics != nil {
		s.metrics.TokenRenewals.WithLabelValues(trigger, outcome).Inc()
	}
}

func (s *Session) observeCallEvent(event string) {
	if s.metrics != nil {
		s.metrics.CallEvents.WithLabelValues(event).Inc()
	}
}

func (s *Session) observeProviderError(code int) {
	if s.metrics != nil {
		s.metrics.ProviderErrors.WithLabelValues(s.provider.Name(), strconv.Itoa(code)).Inc()
	}
}
