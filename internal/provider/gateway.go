package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/brightdesk/dialtone/internal/reliability"
)

// GatewayConfig controls the websocket signaling gateway adapter.
type GatewayConfig struct {
	WSURL            string
	DialRetries      int
	DialBackoffBase  time.Duration
	DialBackoffCap   time.Duration
	HandshakeTimeout time.Duration
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	out := c
	if out.DialRetries < 0 {
		out.DialRetries = 0
	}
	if out.DialBackoffBase <= 0 {
		out.DialBackoffBase = 250 * time.Millisecond
	}
	if out.DialBackoffCap <= 0 {
		out.DialBackoffCap = 4 * time.Second
	}
	if out.HandshakeTimeout <= 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// GatewayProvider speaks a JSON frame protocol to a hosted signaling gateway
// over a websocket, one socket per endpoint.
type GatewayProvider struct {
	cfg GatewayConfig
}

func NewGatewayProvider(cfg GatewayConfig) (*GatewayProvider, error) {
	if cfg.WSURL == "" {
		return nil, fmt.Errorf("gateway: ws url is required")
	}
	return &GatewayProvider{cfg: cfg.withDefaults()}, nil
}

func (p *GatewayProvider) Name() string { return "gateway" }

func (p *GatewayProvider) NewEndpoint(ctx context.Context, tok string) (Endpoint, error) {
	var conn *websocket.Conn
	var err error
	for attempt := 0; ; attempt++ {
		conn, _, err = websocket.DefaultDialer.DialContext(ctx, p.cfg.WSURL, nil)
		if err == nil {
			break
		}
		if attempt >= p.cfg.DialRetries {
			return nil, fmt.Errorf("gateway: dial %s: %w", p.cfg.WSURL, err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(reliability.ExponentialBackoff(attempt, p.cfg.DialBackoffBase, p.cfg.DialBackoffCap)):
		}
	}

	ep := &gatewayEndpoint{
		conn:             conn,
		token:            tok,
		handshakeTimeout: p.cfg.HandshakeTimeout,
		events:           make(chan Event, 16),
		calls:            make(map[string]*gatewayCall),
		regAck:           make(chan error, 1),
	}
	go ep.readLoop()
	return ep, nil
}

// gatewayFrame is the wire format in both directions. Unused fields are
// omitted per message type.
type gatewayFrame struct {
	Type        string `json:"type"`
	Token       string `json:"token,omitempty"`
	CallID      string `json:"call_id,omitempty"`
	SID         string `json:"sid,omitempty"`
	Event       string `json:"event,omitempty"`
	Action      string `json:"action,omitempty"`
	Digits      string `json:"digits,omitempty"`
	Code        int    `json:"code,omitempty"`
	Message     string `json:"message,omitempty"`
	To          string `json:"to,omitempty"`
	From        string `json:"from,omitempty"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	LeadID      string `json:"lead_id,omitempty"`
}

type gatewayEndpoint struct {
	conn             *websocket.Conn
	handshakeTimeout time.Duration

	writeMu sync.Mutex
	token   string

	mu     sync.Mutex
	calls  map[string]*gatewayCall
	closed bool

	events     chan Event
	eventsOnce sync.Once
	regAck     chan error
}

func (e *gatewayEndpoint) Register(ctx context.Context) error {
	e.writeMu.Lock()
	tok := e.token
	e.writeMu.Unlock()
	if err := e.writeFrame(gatewayFrame{Type: "register", Token: tok}); err != nil {
		return err
	}
	timer := time.NewTimer(e.handshakeTimeout)
	defer timer.Stop()
	select {
	case err := <-e.regAck:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("gateway: registration timed out")
	}
}

func (e *gatewayEndpoint) UpdateToken(_ context.Context, tok string) error {
	e.writeMu.Lock()
	e.token = tok
	e.writeMu.Unlock()
	return e.writeFrame(gatewayFrame{Type: "update_token", Token: tok})
}

func (e *gatewayEndpoint) Unregister() error {
	return e.writeFrame(gatewayFrame{Type: "unregister"})
}

func (e *gatewayEndpoint) Destroy() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	return e.conn.Close()
}

func (e *gatewayEndpoint) Connect(_ context.Context, params ConnectParams) (CallHandle, error) {
	c := &gatewayCall{
		id:     uuid.NewString(),
		ep:     e,
		params: params,
		events: make(chan CallEvent, 16),
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, fmt.Errorf("gateway: endpoint closed")
	}
	e.calls[c.id] = c
	e.mu.Unlock()

	err := e.writeFrame(gatewayFrame{
		Type:        "connect",
		CallID:      c.id,
		To:          params.To,
		From:        params.From,
		WorkspaceID: params.WorkspaceID,
		LeadID:      params.LeadID,
	})
	if err != nil {
		e.dropCall(c.id)
		return nil, err
	}
	return c, nil
}

func (e *gatewayEndpoint) Events() <-chan Event { return e.events }

func (e *gatewayEndpoint) readLoop() {
	defer e.eventsOnce.Do(func() { close(e.events) })
	for {
		var frame gatewayFrame
		if err := e.conn.ReadJSON(&frame); err != nil {
			e.mu.Lock()
			closed := e.closed
			calls := e.takeCallsLocked()
			e.mu.Unlock()
			for _, c := range calls {
				c.dispatch(CallEvent{Type: CallEventError, Message: "gateway connection lost"})
			}
			if !closed {
				e.emit(Event{Type: EventError, Message: fmt.Sprintf("gateway read: %v", err)})
			}
			return
		}
		e.handleFrame(frame)
	}
}

func (e *gatewayEndpoint) handleFrame(frame gatewayFrame) {
	switch frame.Type {
	case "registered":
		select {
		case e.regAck <- nil:
		default:
		}
		e.emit(Event{Type: EventRegistered})
	case "register_failed":
		select {
		case e.regAck <- fmt.Errorf("gateway: registration rejected: %s", frame.Message):
		default:
		}
	case "unregistered":
		e.emit(Event{Type: EventUnregistered})
	case "token_will_expire":
		e.emit(Event{Type: EventTokenWillExpire})
	case "incoming":
		c := &gatewayCall{
			id:     frame.CallID,
			sid:    frame.SID,
			ep:     e,
			params: ConnectParams{From: frame.From, To: frame.To},
			events: make(chan CallEvent, 16),
		}
		e.mu.Lock()
		e.calls[c.id] = c
		e.mu.Unlock()
		e.emit(Event{Type: EventIncoming, Call: c})
	case "call_event":
		e.routeCallEvent(frame)
	case "error":
		if frame.CallID != "" {
			if c := e.lookupCall(frame.CallID, true); c != nil {
				c.dispatch(CallEvent{Type: CallEventError, Code: frame.Code, Message: frame.Message})
			}
			return
		}
		e.emit(Event{Type: EventError, Code: frame.Code, Message: frame.Message})
	}
}

func (e *gatewayEndpoint) routeCallEvent(frame gatewayFrame) {
	terminal := frame.Event == string(CallEventDisconnected) || frame.Event == string(CallEventCancelled)
	c := e.lookupCall(frame.CallID, terminal)
	if c == nil {
		return
	}
	switch CallEventType(frame.Event) {
	case CallEventRinging:
		c.dispatch(CallEvent{Type: CallEventRinging})
	case CallEventAccepted:
		c.setSID(frame.SID)
		c.dispatch(CallEvent{Type: CallEventAccepted, SID: frame.SID})
	case CallEventDisconnected:
		c.dispatch(CallEvent{Type: CallEventDisconnected})
	case CallEventCancelled:
		c.dispatch(CallEvent{Type: CallEventCancelled})
	}
}

func (e *gatewayEndpoint) lookupCall(id string, remove bool) *gatewayCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	c := e.calls[id]
	if c != nil && remove {
		delete(e.calls, id)
	}
	return c
}

func (e *gatewayEndpoint) dropCall(id string) {
	e.mu.Lock()
	delete(e.calls, id)
	e.mu.Unlock()
}

func (e *gatewayEndpoint) takeCallsLocked() []*gatewayCall {
	out := make([]*gatewayCall, 0, len(e.calls))
	for id, c := range e.calls {
		out = append(out, c)
		delete(e.calls, id)
	}
	return out
}

func (e *gatewayEndpoint) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		// Slow consumer; endpoint events are advisory except for errors, and
		// a full buffer here means the session is already being torn down.
	}
}

func (e *gatewayEndpoint) writeFrame(frame gatewayFrame) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	if err := e.conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("gateway write: %w", err)
	}
	return nil
}

type gatewayCall struct {
	id     string
	ep     *gatewayEndpoint
	params ConnectParams

	mu     sync.Mutex
	sid    string
	closed bool

	events chan CallEvent
}

func (c *gatewayCall) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *gatewayCall) setSID(sid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if sid != "" {
		c.sid = sid
	}
}

func (c *gatewayCall) Params() ConnectParams { return c.params }

func (c *gatewayCall) Accept(_ context.Context) error {
	return c.ep.writeFrame(gatewayFrame{Type: "call_action", CallID: c.id, Action: "accept"})
}

func (c *gatewayCall) Reject(_ context.Context) error {
	return c.ep.writeFrame(gatewayFrame{Type: "call_action", CallID: c.id, Action: "reject"})
}

func (c *gatewayCall) Disconnect(_ context.Context) error {
	return c.ep.writeFrame(gatewayFrame{Type: "call_action", CallID: c.id, Action: "disconnect"})
}

func (c *gatewayCall) Mute(on bool) error {
	action := "mute"
	if !on {
		action = "unmute"
	}
	return c.ep.writeFrame(gatewayFrame{Type: "call_action", CallID: c.id, Action: action})
}

func (c *gatewayCall) SendDigits(_ context.Context, digits string) error {
	return c.ep.writeFrame(gatewayFrame{Type: "call_action", CallID: c.id, Action: "digits", Digits: digits})
}

func (c *gatewayCall) Events() <-chan CallEvent { return c.events }

func (c *gatewayCall) dispatch(ev CallEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	terminal := ev.Type == CallEventDisconnected || ev.Type == CallEventCancelled || ev.Type == CallEventError
	c.events <- ev
	if terminal {
		c.closed = true
		close(c.events)
	}
}
