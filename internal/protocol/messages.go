package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	// Client to server.
	TypeClientVisibility MessageType = "client_visibility"

	// Server to client.
	TypeConnectionStatus MessageType = "connection_status"
	TypeCallState        MessageType = "call_state"
	TypeErrorEvent       MessageType = "error_event"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// ClientVisibility reports the host page's visibility transitions. A visible
// transition after a long hidden stretch triggers an immediate credential
// renewal.
type ClientVisibility struct {
	Type        MessageType `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	Visible     bool        `json:"visible"`
	HiddenForMs int64       `json:"hidden_for_ms,omitempty"`
}

type ConnectionStatus struct {
	Type        MessageType `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	Status      string      `json:"status"`
	State       string      `json:"state"`
	TSMs        int64       `json:"ts_ms"`
}

type CallState struct {
	Type            MessageType `json:"type"`
	WorkspaceID     string      `json:"workspace_id"`
	State           string      `json:"state"`
	To              string      `json:"to,omitempty"`
	From            string      `json:"from,omitempty"`
	LeadID          string      `json:"lead_id,omitempty"`
	SID             string      `json:"sid,omitempty"`
	DurationSeconds int         `json:"duration_seconds"`
	Muted           bool        `json:"muted"`
	TSMs            int64       `json:"ts_ms"`
}

type ErrorEvent struct {
	Type        MessageType `json:"type"`
	WorkspaceID string      `json:"workspace_id"`
	Code        int         `json:"code,omitempty"`
	Detail      string      `json:"detail"`
	TSMs        int64       `json:"ts_ms"`
}

// NowMs is the wall-clock millisecond timestamp stamped on outbound messages.
func NowMs() int64 { return time.Now().UnixMilli() }

// ParseClientMessage validates and decodes one inbound client frame.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeClientVisibility:
		var msg ClientVisibility
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.WorkspaceID == "" {
			return nil, errors.New("invalid client_visibility")
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
