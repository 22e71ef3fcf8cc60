package provider

import "context"

// CodeTokenExpired is the reserved provider error code meaning the signaling
// credential has lapsed. It is the only code given special handling: the
// session restarts itself instead of surfacing a hard failure.
const CodeTokenExpired = 20104

type EventType string

const (
	EventRegistered      EventType = "registered"
	EventUnregistered    EventType = "unregistered"
	EventError           EventType = "error"
	EventIncoming        EventType = "incoming"
	EventTokenWillExpire EventType = "token_will_expire"
)

// Event is a provider-pushed endpoint lifecycle event. Call carries the handle
// for EventIncoming only.
type Event struct {
	Type    EventType
	Code    int
	Message string
	Call    CallHandle
}

// ConnectParams are the routing parameters for an outbound call.
type ConnectParams struct {
	To          string
	From        string
	WorkspaceID string
	LeadID      string
}

type CallEventType string

const (
	CallEventRinging      CallEventType = "ringing"
	CallEventAccepted     CallEventType = "accepted"
	CallEventDisconnected CallEventType = "disconnected"
	CallEventCancelled    CallEventType = "cancelled"
	CallEventError        CallEventType = "error"
)

type CallEvent struct {
	Type    CallEventType
	SID     string
	Code    int
	Message string
}

// CallHandle represents one voice connection at the provider. Within a single
// call, ringing precedes accepted, which precedes disconnected; the events
// channel is closed after the terminal event.
type CallHandle interface {
	// SID is the provider-assigned call reference, empty until accepted.
	SID() string
	Params() ConnectParams
	Accept(ctx context.Context) error
	Reject(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Mute(on bool) error
	SendDigits(ctx context.Context, digits string) error
	Events() <-chan CallEvent
}

// Endpoint is one registered, addressable calling client. Register blocks
// until the provider confirms (or rejects) the registration; runtime failures
// after that arrive on Events. Destroy closes the events channel.
type Endpoint interface {
	Register(ctx context.Context) error
	UpdateToken(ctx context.Context, tok string) error
	Unregister() error
	Destroy() error
	Connect(ctx context.Context, params ConnectParams) (CallHandle, error)
	Events() <-chan Event
}

type Provider interface {
	Name() string
	NewEndpoint(ctx context.Context, tok string) (Endpoint, error)
}
