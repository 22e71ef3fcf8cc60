package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/brightdesk/dialtone/internal/dialer"
	"github.com/brightdesk/dialtone/internal/protocol"
)

// handleEventFeed streams connection status and call state updates for one
// workspace and accepts visibility signals from the page.
func (s *Server) handleEventFeed(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "query parameter workspace_id is required")
		return
	}
	sess, err := s.sessions.Get(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	s.observeSessionEvent("ws_connected")

	updates, cancel := sess.Subscribe()
	defer cancel()

	// Initial snapshot so the client does not wait for the next transition.
	snap := sess.Snapshot()
	outbound := make(chan any, 64)
	outbound <- protocol.ConnectionStatus{
		Type:        protocol.TypeConnectionStatus,
		WorkspaceID: workspaceID,
		Status:      string(snap.Status),
		State:       string(snap.State),
		TSMs:        protocol.NowMs(),
	}
	outbound <- callStateMessage(workspaceID, snap.Call)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for u := range updates {
			msg := feedMessage(u)
			if msg == nil {
				continue
			}
			select {
			case outbound <- msg:
			default:
				// Keep websocket writes single-threaded; drop if the
				// outbound queue is saturated.
				s.observeWSMessage("outbound", "drop_full")
			}
		}
	}()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-done:
				return
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.observeWSMessage("outbound", string(t))
				}
			}
		}
	}()

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			errEvent := protocol.ErrorEvent{
				Type:        protocol.TypeErrorEvent,
				WorkspaceID: workspaceID,
				Detail:      err.Error(),
				TSMs:        protocol.NowMs(),
			}
			select {
			case outbound <- errEvent:
			default:
			}
			continue
		}
		if vis, ok := parsed.(protocol.ClientVisibility); ok {
			s.observeWSMessage("inbound", string(protocol.TypeClientVisibility))
			if vis.Visible {
				go sess.Renew(dialer.TriggerVisibility)
			}
		}
	}

	cancel()
	<-done
	<-writerDone
	s.observeSessionEvent("ws_disconnected")
}

func feedMessage(u dialer.Update) any {
	switch u.Kind {
	case dialer.UpdateStatus:
		return protocol.ConnectionStatus{
			Type:        protocol.TypeConnectionStatus,
			WorkspaceID: u.WorkspaceID,
			Status:      string(u.Status),
			State:       string(u.SessionState),
			TSMs:        protocol.NowMs(),
		}
	case dialer.UpdateCall:
		if u.Call == nil {
			return nil
		}
		return callStateMessage(u.WorkspaceID, *u.Call)
	case dialer.UpdateError:
		return protocol.ErrorEvent{
			Type:        protocol.TypeErrorEvent,
			WorkspaceID: u.WorkspaceID,
			Code:        u.ErrorCode,
			Detail:      u.ErrorDetail,
			TSMs:        protocol.NowMs(),
		}
	default:
		return nil
	}
}

func callStateMessage(workspaceID string, info dialer.CallInfo) protocol.CallState {
	return protocol.CallState{
		Type:            protocol.TypeCallState,
		WorkspaceID:     workspaceID,
		State:           string(info.State),
		To:              info.To,
		From:            info.From,
		LeadID:          info.LeadID,
		SID:             info.SID,
		DurationSeconds: info.DurationSeconds,
		Muted:           info.Muted,
		TSMs:            protocol.NowMs(),
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientVisibility:
		return m.Type, true
	case protocol.ConnectionStatus:
		return m.Type, true
	case protocol.CallState:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	default:
		return "", false
	}
}

func (s *Server) observeSessionEvent(event string) {
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues(event).Inc()
	}
}

func (s *Server) observeWSMessage(direction, msgType string) {
	if s.metrics != nil {
		s.metrics.WSMessages.WithLabelValues(direction, msgType).Inc()
	}
}
