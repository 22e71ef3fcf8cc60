package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightdesk/dialtone/internal/dialer"
)

type sessionRequest struct {
	WorkspaceID string `json:"workspace_id"`
}

func (s *Server) handleInitializeSession(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.WorkspaceID) == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "workspace_id is required")
		return
	}

	sess, err := s.sessions.Initialize(r.Context(), req.WorkspaceID)
	if err != nil {
		switch {
		case errors.Is(err, dialer.ErrWorkspaceBusy):
			respondError(w, http.StatusConflict, "workspace_busy", err.Error())
		default:
			respondError(w, http.StatusBadGateway, "initialize_failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request) {
	workspace := chi.URLParam(r, "workspace")
	if strings.TrimSpace(workspace) == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "missing workspace id")
		return
	}
	if err := s.sessions.Destroy(workspace); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "destroyed"})
}

type placeCallRequest struct {
	WorkspaceID string `json:"workspace_id"`
	To          string `json:"to"`
	From        string `json:"from"`
	LeadID      string `json:"lead_id"`
}

func (s *Server) handlePlaceCall(w http.ResponseWriter, r *http.Request) {
	var req placeCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.To) == "" {
		respondError(w, http.StatusBadRequest, "missing_to", "to is required")
		return
	}
	sess, ok := s.sessionFromBody(w, req.WorkspaceID)
	if !ok {
		return
	}

	info, err := sess.Place(r.Context(), req.To, req.From, req.LeadID)
	if err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, info)
}

type callRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Muted       bool   `json:"muted"`
	Digits      string `json:"digits"`
	Notes       string `json:"notes"`
}

func (s *Server) handleAnswerCall(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.callSession(w, r)
	if !ok {
		return
	}
	if err := sess.Answer(r.Context()); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.CallInfo())
}

func (s *Server) handleRejectCall(w http.ResponseWriter, r *http.Request) {
	sess, _, ok := s.callSession(w, r)
	if !ok {
		return
	}
	if err := sess.Reject(r.Context()); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.CallInfo())
}

func (s *Server) handleMuteCall(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := s.callSession(w, r)
	if !ok {
		return
	}
	if err := sess.Mute(req.Muted); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.CallInfo())
}

func (s *Server) handleSendDigits(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := s.callSession(w, r)
	if !ok {
		return
	}
	if strings.TrimSpace(req.Digits) == "" {
		respondError(w, http.StatusBadRequest, "missing_digits", "digits is required")
		return
	}
	if err := sess.SendDigits(r.Context(), req.Digits); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.CallInfo())
}

func (s *Server) handleHangupCall(w http.ResponseWriter, r *http.Request) {
	sess, req, ok := s.callSession(w, r)
	if !ok {
		return
	}
	if err := sess.End(r.Context(), req.Notes); err != nil {
		respondCallError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sess.CallInfo())
}

func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request) (*dialer.Session, bool) {
	workspace := chi.URLParam(r, "workspace")
	if strings.TrimSpace(workspace) == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "missing workspace id")
		return nil, false
	}
	return s.sessionFromBody(w, workspace)
}

func (s *Server) sessionFromBody(w http.ResponseWriter, workspaceID string) (*dialer.Session, bool) {
	if strings.TrimSpace(workspaceID) == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "workspace_id is required")
		return nil, false
	}
	sess, err := s.sessions.Get(workspaceID)
	if err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return nil, false
	}
	return sess, true
}

func (s *Server) callSession(w http.ResponseWriter, r *http.Request) (*dialer.Session, callRequest, bool) {
	var req callRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return nil, req, false
	}
	sess, ok := s.sessionFromBody(w, req.WorkspaceID)
	return sess, req, ok
}

func respondCallError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialer.ErrNotReady):
		respondError(w, http.StatusConflict, "session_not_ready", err.Error())
	case errors.Is(err, dialer.ErrCallInProgress):
		respondError(w, http.StatusConflict, "call_in_progress", err.Error())
	case errors.Is(err, dialer.ErrNoActiveCall):
		respondError(w, http.StatusConflict, "no_active_call", err.Error())
	case errors.Is(err, dialer.ErrNoIncomingCall):
		respondError(w, http.StatusConflict, "no_incoming_call", err.Error())
	default:
		respondError(w, http.StatusBadGateway, "call_failed", err.Error())
	}
}
