package calllog

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("call record not found")

// Record is one logged call. Saved when the provider accepts the call,
// finished (duration, notes) when it disconnects.
type Record struct {
	ID              string    `json:"id"`
	WorkspaceID     string    `json:"workspace_id"`
	LeadID          string    `json:"lead_id,omitempty"`
	CallSID         string    `json:"call_sid"`
	ToNumber        string    `json:"to_number"`
	FromNumber      string    `json:"from_number"`
	PlacedAt        time.Time `json:"placed_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Notes           string    `json:"notes,omitempty"`
}

// Recorder persists call records. Callers treat it as fire-and-forget: a
// failed save never affects call state.
type Recorder interface {
	SaveCallRecord(ctx context.Context, rec Record) (string, error)
	FinishCallRecord(ctx context.Context, callSID string, durationSeconds int, notes string) error
	ListByWorkspace(ctx context.Context, workspaceID, leadID string, limit int) ([]Record, error)
	Close()
}
