package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/aidex/internal/chat"
	"github.com/ent0n29/aidex/internal/config"
	"github.com/ent0n29/aidex/internal/logging"
	"github.com/ent0n29/aidex/internal/memory"
	"github.com/ent0n29/aidex/internal/observability"
	"github.com/ent0n29/aidex/internal/protocol"
	"github.com/ent0n29/aidex/internal/session"
)

type ChatService interface {
	Reply(ctx context.Context, req chat.Request) (chat.Response, error)
}

type VideoAnalyzer interface {
	RunConnection(ctx context.Context, inbound <-chan []byte, outbound chan<- protocol.VideoAnalysis) error
}

type Server struct {
	cfg      config.Config
	sessions *session.Manager
	history  memory.Store
	chat     ChatService
	vision   VideoAnalyzer
	metrics  *observability.Metrics
	upgrader websocket.Upgrader

	videoIdleTimeout  time.Duration
	videoPingInterval time.Duration
}

func New(cfg config.Config, sessions *session.Manager, history memory.Store, chatService ChatService, vision VideoAnalyzer, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		sessions: sessions,
		history:  history,
		chat:     chatService,
		vision:   vision,
		metrics:  metrics,

		videoIdleTimeout:  defaultVideoIdleTimeout,
		videoPingInterval: defaultVideoPingInterval,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 << 10,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
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
	r.Use(logging.Recoverer)
	r.Use(logging.RequestLogger)
	r.Use(corsMiddleware(s.cfg.AllowAnyOrigin))

	r.Get("/", s.handleRoot)
	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/chat", s.handleChat)
	r.Get("/ws/video", s.handleVideoWS)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/sessions/{id}/history", s.handleSessionHistory)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, protocol.Welcome{Message: protocol.WelcomeMessage})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":                "ready",
		"gemini_mode":           s.geminiMode(),
		"credential_configured": strings.TrimSpace(s.cfg.GeminiAPIKey) != "",
		"history_backend":       s.historyBackend(),
		"active_sessions":       s.sessions.ActiveCount(),
	})
}

func (s *Server) geminiMode() string {
	mode := strings.ToLower(strings.TrimSpace(s.cfg.GeminiMode))
	if mode == "" {
		return "http"
	}
	return mode
}

func (s *Server) historyBackend() string {
	if strings.TrimSpace(s.cfg.DatabaseURL) != "" {
		return "postgres"
	}
	return "in-memory"
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		// Only a body with no bytes at all is empty; a truncated document is invalid.
		if errors.Is(err, io.EOF) {
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
	respondJSON(w, status, protocol.ErrorResponse{Error: message, Code: code})
}
