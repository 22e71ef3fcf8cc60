package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider is an in-process provider used when no signaling gateway is
// configured, and by every test. Endpoints and calls expose driver methods so
// tests can fire provider-side events deterministically.
type MockProvider struct {
	mu            sync.Mutex
	endpoints     []*MockEndpoint
	registerErr   error
	endpointErr   error
	registrations int
	tokenRequests int
}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) NewEndpoint(_ context.Context, tok string) (Endpoint, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.endpointErr != nil {
		err := p.endpointErr
		p.endpointErr = nil
		return nil, err
	}
	ep := &MockEndpoint{
		provider: p,
		token:    tok,
		events:   make(chan Event, 16),
	}
	p.endpoints = append(p.endpoints, ep)
	return ep, nil
}

// FailNextRegister makes the next Register call on any endpoint fail once.
func (p *MockProvider) FailNextRegister(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.registerErr = err
}

// FailNextEndpoint makes the next NewEndpoint call fail once.
func (p *MockProvider) FailNextEndpoint(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpointErr = err
}

// Registrations counts successful Register calls across all endpoints.
func (p *MockProvider) Registrations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.registrations
}

// TokenUpdates counts UpdateToken calls across all endpoints.
func (p *MockProvider) TokenUpdates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tokenRequests
}

// LastEndpoint returns the most recently created endpoint, or nil.
func (p *MockProvider) LastEndpoint() *MockEndpoint {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.endpoints) == 0 {
		return nil
	}
	return p.endpoints[len(p.endpoints)-1]
}

type MockEndpoint struct {
	provider *MockProvider

	mu         sync.Mutex
	token      string
	registered bool
	destroyed  bool
	events     chan Event
	lastCall   *MockCall
}

func (e *MockEndpoint) Register(_ context.Context) error {
	e.provider.mu.Lock()
	if err := e.provider.registerErr; err != nil {
		e.provider.registerErr = nil
		e.provider.mu.Unlock()
		return err
	}
	e.provider.registrations++
	e.provider.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return fmt.Errorf("mock endpoint destroyed")
	}
	e.registered = true
	e.events <- Event{Type: EventRegistered}
	return nil
}

func (e *MockEndpoint) UpdateToken(_ context.Context, tok string) error {
	e.provider.mu.Lock()
	e.provider.tokenRequests++
	e.provider.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return fmt.Errorf("mock endpoint destroyed")
	}
	e.token = tok
	return nil
}

func (e *MockEndpoint) Unregister() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	if e.registered {
		e.registered = false
		e.events <- Event{Type: EventUnregistered}
	}
	return nil
}

func (e *MockEndpoint) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	e.destroyed = true
	close(e.events)
	return nil
}

func (e *MockEndpoint) Connect(_ context.Context, params ConnectParams) (CallHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed || !e.registered {
		return nil, fmt.Errorf("mock endpoint not registered")
	}
	c := newMockCall(params)
	e.lastCall = c
	return c, nil
}

// LastCall returns the most recent outbound call handle, or nil.
func (e *MockEndpoint) LastCall() *MockCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastCall
}

func (e *MockEndpoint) Events() <-chan Event { return e.events }

// Token returns the credential currently held by the endpoint.
func (e *MockEndpoint) Token() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.token
}

func (e *MockEndpoint) Registered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registered
}

func (e *MockEndpoint) Destroyed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.destroyed
}

// PushError emits a runtime endpoint error, e.g. code 20104 for token expiry.
func (e *MockEndpoint) PushError(code int, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.events <- Event{Type: EventError, Code: code, Message: message}
}

// PushTokenWillExpire emits the provider's imminent-expiry warning.
func (e *MockEndpoint) PushTokenWillExpire() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return
	}
	e.events <- Event{Type: EventTokenWillExpire}
}

// PushIncoming emits an inbound call and returns its handle for driving.
func (e *MockEndpoint) PushIncoming(from string) *MockCall {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.destroyed {
		return nil
	}
	c := newMockCall(ConnectParams{From: from})
	e.events <- Event{Type: EventIncoming, Call: c}
	return c
}

type MockCall struct {
	mu                 sync.Mutex
	sid                string
	params             ConnectParams
	muted              bool
	digits             []string
	accepted           bool
	rejected           bool
	disconnectRequests int
	closed             bool
	events             chan CallEvent
}

func newMockCall(params ConnectParams) *MockCall {
	return &MockCall{
		params: params,
		events: make(chan CallEvent, 16),
	}
}

func (c *MockCall) SID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sid
}

func (c *MockCall) Params() ConnectParams {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *MockCall) Accept(_ context.Context) error {
	c.mu.Lock()
	c.accepted = true
	c.mu.Unlock()
	c.FireAccepted()
	return nil
}

func (c *MockCall) Reject(_ context.Context) error {
	c.mu.Lock()
	c.rejected = true
	c.mu.Unlock()
	c.FireCancelled()
	return nil
}

func (c *MockCall) Disconnect(_ context.Context) error {
	c.mu.Lock()
	c.disconnectRequests++
	c.mu.Unlock()
	// The provider confirms teardown asynchronously via the disconnected event.
	c.FireDisconnected()
	return nil
}

func (c *MockCall) Mute(on bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = on
	return nil
}

func (c *MockCall) SendDigits(_ context.Context, digits string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.digits = append(c.digits, digits)
	return nil
}

func (c *MockCall) Events() <-chan CallEvent { return c.events }

func (c *MockCall) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *MockCall) Digits() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.digits...)
}

func (c *MockCall) DisconnectRequests() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnectRequests
}

func (c *MockCall) FireRinging() {
	c.fire(CallEvent{Type: CallEventRinging})
}

func (c *MockCall) FireAccepted() {
	c.mu.Lock()
	if c.sid == "" {
		c.sid = "CA" + uuid.NewString()
	}
	sid := c.sid
	c.mu.Unlock()
	c.fire(CallEvent{Type: CallEventAccepted, SID: sid})
}

func (c *MockCall) FireDisconnected() {
	c.fireTerminal(CallEvent{Type: CallEventDisconnected})
}

func (c *MockCall) FireCancelled() {
	c.fireTerminal(CallEvent{Type: CallEventCancelled})
}

func (c *MockCall) FireError(code int, message string) {
	c.fireTerminal(CallEvent{Type: CallEventError, Code: code, Message: message})
}

func (c *MockCall) fire(ev CallEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.events <- ev
}

func (c *MockCall) fireTerminal(ev CallEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.events <- ev
	close(c.events)
}
