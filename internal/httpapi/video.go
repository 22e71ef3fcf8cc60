package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/brightdesk/dialtone/internal/video"
)

type connectRoomRequest struct {
	RoomName string `json:"room_name"`
	Identity string `json:"identity"`
}

func (s *Server) handleConnectRoom(w http.ResponseWriter, r *http.Request) {
	var req connectRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.RoomName) == "" || strings.TrimSpace(req.Identity) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "room_name and identity are required")
		return
	}

	sess, err := s.rooms.Connect(r.Context(), req.RoomName, req.Identity)
	if err != nil {
		if errors.Is(err, video.ErrRoomExists) {
			respondError(w, http.StatusConflict, "room_exists", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "room_join_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	sess, err := s.rooms.Get(name)
	if err != nil {
		respondError(w, http.StatusNotFound, "room_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDisconnectRoom(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.rooms.Disconnect(name); err != nil {
		respondError(w, http.StatusNotFound, "room_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}
