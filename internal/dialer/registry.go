package dialer

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/observability"
	"github.com/brightdesk/dialtone/internal/presence"
	"github.com/brightdesk/dialtone/internal/provider"
	"github.com/brightdesk/dialtone/internal/token"
)

// Registry owns one session per workspace and holds the presence slot for
// each while its session lives.
type Registry struct {
	provider provider.Provider
	tokens   token.Source
	recorder calllog.Recorder
	guard    presence.Guard
	metrics  *observability.Metrics
	cfg      Config

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(prov provider.Provider, tokens token.Source, recorder calllog.Recorder, guard presence.Guard, metrics *observability.Metrics, cfg Config) *Registry {
	return &Registry{
		provider: prov,
		tokens:   tokens,
		recorder: recorder,
		guard:    guard,
		metrics:  metrics,
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Initialize returns the workspace's live session, creating and registering
// one if needed. A session stuck in the error state is replaced.
func (r *Registry) Initialize(ctx context.Context, workspaceID string) (*Session, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("workspace id is required")
	}

	r.mu.Lock()
	if s, ok := r.sessions[workspaceID]; ok {
		switch s.State() {
		case StateConnecting, StateReady:
			r.mu.Unlock()
			return s, nil
		}
		delete(r.sessions, workspaceID)
		r.mu.Unlock()
		s.Destroy()
		if err := r.guard.Release(ctx, workspaceID); err != nil {
			log.Printf("dialer: presence release failed (workspace=%s): %v", workspaceID, err)
		}
		r.mu.Lock()
	}
	r.mu.Unlock()

	ok, err := r.guard.Acquire(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("acquire endpoint slot: %w", err)
	}
	if !ok {
		return nil, ErrWorkspaceBusy
	}

	s := NewSession(workspaceID, r.provider, r.tokens, r.recorder, r.metrics, r.cfg)

	r.mu.Lock()
	if existing, raced := r.sessions[workspaceID]; raced {
		r.mu.Unlock()
		if err := r.guard.Release(ctx, workspaceID); err != nil {
			log.Printf("dialer: presence release failed (workspace=%s): %v", workspaceID, err)
		}
		return existing, nil
	}
	r.sessions[workspaceID] = s
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.ActiveSessions.Inc()
	}
	if err := s.Initialize(ctx); err != nil {
		r.remove(workspaceID, s)
		return nil, err
	}
	return s, nil
}

// Get returns the live session for a workspace.
func (r *Registry) Get(workspaceID string) (*Session, error) {
	r.mu.Lock()
	s, ok := r.sessions[workspaceID]
	r.mu.Unlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Destroy tears down the workspace's session and frees its endpoint slot.
func (r *Registry) Destroy(workspaceID string) error {
	r.mu.Lock()
	s, ok := r.sessions[workspaceID]
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.remove(workspaceID, s)
	return nil
}

func (r *Registry) remove(workspaceID string, s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[workspaceID]; !ok || cur != s {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, workspaceID)
	r.mu.Unlock()

	s.Destroy()
	if err := r.guard.Release(context.Background(), workspaceID); err != nil {
		log.Printf("dialer: presence release failed (workspace=%s): %v", workspaceID, err)
	}
	if r.metrics != nil {
		r.metrics.ActiveSessions.Dec()
	}
}

func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// DestroyAll tears down every session, used on shutdown.
func (r *Registry) DestroyAll() {
	r.mu.Lock()
	all := make(map[string]*Session, len(r.sessions))
	for ws, s := range r.sessions {
		all[ws] = s
	}
	r.mu.Unlock()
	for ws, s := range all {
		r.remove(ws, s)
	}
}
