package calllog

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRecorder is the store used when no DATABASE_URL is configured.
type MemoryRecorder struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryRecorder() *MemoryRecorder { return &MemoryRecorder{} }

func (r *MemoryRecorder) SaveCallRecord(_ context.Context, rec Record) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.PlacedAt.IsZero() {
		rec.PlacedAt = time.Now().UTC()
	}
	r.records = append(r.records, rec)
	return rec.ID, nil
}

func (r *MemoryRecorder) FinishCallRecord(_ context.Context, callSID string, durationSeconds int, notes string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.records) - 1; i >= 0; i-- {
		if r.records[i].CallSID == callSID {
			r.records[i].DurationSeconds = durationSeconds
			if notes != "" {
				r.records[i].Notes = notes
			}
			return nil
		}
	}
	return ErrNotFound
}

func (r *MemoryRecorder) ListByWorkspace(_ context.Context, workspaceID, leadID string, limit int) ([]Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, 0, limit)
	for i := len(r.records) - 1; i >= 0; i-- {
		rec := r.records[i]
		if rec.WorkspaceID != workspaceID {
			continue
		}
		if leadID != "" && rec.LeadID != leadID {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r *MemoryRecorder) Close() {}
