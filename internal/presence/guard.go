package presence

import (
	"context"
	"sync"
)

// Guard enforces the per-workspace endpoint cap: at most N (normally one) live
// signaling endpoints for the same workspace identifier.
type Guard interface {
	Acquire(ctx context.Context, workspaceID string) (bool, error)
	Release(ctx context.Context, workspaceID string) error
}

// LocalGuard is the single-instance implementation.
type LocalGuard struct {
	mu    sync.Mutex
	limit int
	slots map[string]int
}

func NewLocalGuard(limit int) *LocalGuard {
	if limit <= 0 {
		limit = 1
	}
	return &LocalGuard{limit: limit, slots: make(map[string]int)}
}

func (g *LocalGuard) Acquire(_ context.Context, workspaceID string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.slots[workspaceID] >= g.limit {
		return false, nil
	}
	g.slots[workspaceID]++
	return true, nil
}

func (g *LocalGuard) Release(_ context.Context, workspaceID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n := g.slots[workspaceID]; n > 1 {
		g.slots[workspaceID] = n - 1
	} else {
		delete(g.slots, workspaceID)
	}
	return nil
}
