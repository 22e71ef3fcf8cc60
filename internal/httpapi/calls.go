package httpapi

import (
	"net/http"
	"strconv"
	"strings"
)

const defaultCallListLimit = 50

func (s *Server) handleListCalls(w http.ResponseWriter, r *http.Request) {
	workspaceID := strings.TrimSpace(r.URL.Query().Get("workspace_id"))
	if workspaceID == "" {
		respondError(w, http.StatusBadRequest, "missing_workspace_id", "query parameter workspace_id is required")
		return
	}
	leadID := strings.TrimSpace(r.URL.Query().Get("lead_id"))

	limit := defaultCallListLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	records, err := s.records.ListByWorkspace(r.Context(), workspaceID, leadID, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"calls": records})
}
