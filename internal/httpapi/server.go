package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/brightdesk/dialtone/internal/calllog"
	"github.com/brightdesk/dialtone/internal/config"
	"github.com/brightdesk/dialtone/internal/dialer"
	"github.com/brightdesk/dialtone/internal/observability"
	"github.com/brightdesk/dialtone/internal/video"
)

type Server struct {
	cfg      config.Config
	sessions *dialer.Registry
	rooms    *video.Manager
	records  calllog.Recorder
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, sessions *dialer.Registry, rooms *video.Manager, records calllog.Recorder, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		rooms:    rooms,
		records:  records,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same origin,
				// so another site cannot drive a logged-in agent's dialer.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/dialer/session", s.handleInitializeSession)
	r.Get("/v1/dialer/session/{workspace}", s.handleGetSession)
	r.Delete("/v1/dialer/session/{workspace}", s.handleDestroySession)
	r.Get("/v1/dialer/ws", s.handleEventFeed)

	r.Post("/v1/dialer/call", s.handlePlaceCall)
	r.Post("/v1/dialer/call/answer", s.handleAnswerCall)
	r.Post("/v1/dialer/call/reject", s.handleRejectCall)
	r.Post("/v1/dialer/call/mute", s.handleMuteCall)
	r.Post("/v1/dialer/call/digits", s.handleSendDigits)
	r.Post("/v1/dialer/call/hangup", s.handleHangupCall)

	r.Post("/v1/video/room", s.handleConnectRoom)
	r.Get("/v1/video/room/{name}", s.handleGetRoom)
	r.Delete("/v1/video/room/{name}", s.handleDisconnectRoom)

	r.Get("/v1/calls", s.handleListCalls)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"provider": s.cfg.ProviderMode,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
