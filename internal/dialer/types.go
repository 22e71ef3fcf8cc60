package dialer

import (
	"errors"
	"time"
)

// State is the signaling session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConnecting    State = "connecting"
	StateReady         State = "ready"
	StateError         State = "error"
	StateDestroyed     State = "destroyed"
)

// ConnectionStatus is the user-facing projection of session state plus
// whether a credential renewal is currently in flight.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// CallState is the lifecycle state of the session's single call slot.
type CallState string

const (
	CallIdle          CallState = "idle"
	CallConnecting    CallState = "connecting"
	CallRinging       CallState = "ringing"
	CallInProgress    CallState = "in_progress"
	CallIncoming      CallState = "incoming"
	CallDisconnecting CallState = "disconnecting"
)

var (
	ErrNotReady        = errors.New("session is not ready")
	ErrCallInProgress  = errors.New("a call is already in progress")
	ErrNoActiveCall    = errors.New("no call in progress")
	ErrNoIncomingCall  = errors.New("no incoming call")
	ErrDestroyed       = errors.New("session destroyed")
	ErrWorkspaceBusy   = errors.New("workspace endpoint already active")
	ErrSessionNotFound = errors.New("session not found")
)

// Renewal trigger labels, used for logging and metrics.
const (
	TriggerInterval     = "interval"
	TriggerHealthCheck  = "health_check"
	TriggerProviderPush = "provider_push"
	TriggerVisibility   = "visibility"
)

// CallInfo is a copy of the current call state, safe to hand out.
type CallInfo struct {
	State           CallState `json:"state"`
	To              string    `json:"to,omitempty"`
	From            string    `json:"from,omitempty"`
	LeadID          string    `json:"lead_id,omitempty"`
	SID             string    `json:"sid,omitempty"`
	DurationSeconds int       `json:"duration_seconds"`
	Muted           bool      `json:"muted"`
	StartedAt       time.Time `json:"started_at,omitzero"`
}

// Snapshot is a copy of the session's externally visible state.
type Snapshot struct {
	WorkspaceID string           `json:"workspace_id"`
	State       State            `json:"state"`
	Status      ConnectionStatus `json:"status"`
	Error       string           `json:"error,omitempty"`
	LastRenewal time.Time        `json:"last_renewal,omitzero"`
	Call        CallInfo         `json:"call"`
}

type UpdateKind string

const (
	UpdateStatus UpdateKind = "status"
	UpdateCall   UpdateKind = "call"
	UpdateError  UpdateKind = "error"
)

// Update is pushed to subscribers whenever session or call state changes.
type Update struct {
	WorkspaceID  string
	Kind         UpdateKind
	Status       ConnectionStatus
	SessionState State
	Call         *CallInfo
	ErrorCode    int
	ErrorDetail  string
}
