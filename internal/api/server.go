// Package api is the inbound HTTP boundary: the Bot Framework
// messages endpoint and the ticketing system's card-push endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oneiocloud/universal-teams-bot/internal/card"
	"github.com/oneiocloud/universal-teams-bot/internal/logbuf"
	"github.com/oneiocloud/universal-teams-bot/internal/store"
	"github.com/oneiocloud/universal-teams-bot/internal/transport"
)

const maxBodySize = 1 << 20 // 1MB

// ChatHandler parses an inbound chat-platform activity and opens a
// live turn for it. Implemented by the Teams transport.
type ChatHandler interface {
	HandleActivity(ctx context.Context, body []byte) (transport.Event, transport.TurnHandle, error)
}

// Bridge re-enters a stored conversation. Implemented by
// transport.Mux.
type Bridge interface {
	Continue(ctx context.Context, ref json.RawMessage, fn func(transport.TurnHandle) error) error
}

// CardValidator checks a pushed card against the card schema.
type CardValidator interface {
	Validate(c card.Card) error
}

// ContextReader is the read side of the ticket context store.
type ContextReader interface {
	Get(ticketID string) (*store.TicketContext, bool)
}

// LogQuerier abstracts log entry querying to avoid coupling to logbuf
// directly.
type LogQuerier interface {
	Query(since time.Time, minLevel slog.Level, limit int) []logbuf.Entry
}

// Config holds API server configuration.
type Config struct {
	Host string
	Port int
	Key  string // Bearer key required on the ticketing-system endpoints
}

// Server is the bridge's HTTP server.
type Server struct {
	chat      ChatHandler
	handler   transport.Handler
	bridge    Bridge
	validator CardValidator
	contexts  ContextReader
	cfg       Config
	logger    *slog.Logger
	logs      LogQuerier
	srv       *http.Server
}

// NewServer creates the HTTP boundary. logs may be nil.
func NewServer(chat ChatHandler, handler transport.Handler, bridge Bridge, validator CardValidator, contexts ContextReader, cfg Config, logger *slog.Logger, logs LogQuerier) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		chat:      chat,
		handler:   handler,
		bridge:    bridge,
		validator: validator,
		contexts:  contexts,
		cfg:       cfg,
		logger:    logger,
		logs:      logs,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/messages", s.handleMessages)
	mux.HandleFunc("POST /api/send_card", s.requireAuth(s.handleSendCard))
	mux.HandleFunc("GET /api/logs", s.requireAuth(s.handleGetLogs))

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.recoverMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

// recoverMiddleware converts any panic into a generic 500; the process
// never crashes over one request.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("request handler panicked", "path", r.URL.Path, "panic", fmt.Sprintf("%v", rec))
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAuth gates the ticketing-system endpoints behind the
// configured bearer key. The messages endpoint is excluded: its caller
// authenticates with the platform's own JWT, verified by the fronting
// transport layer.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Key == "" {
			next(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") != s.cfg.Key {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next(w, r)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}

	ev, turn, err := s.chat.HandleActivity(r.Context(), body)
	if err != nil {
		s.logger.Warn("unparseable activity", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid activity"})
		return
	}

	result := s.handler(r.Context(), ev, turn)
	if result.Body == "" {
		w.WriteHeader(result.Status)
		return
	}
	writeJSON(w, result.Status, map[string]string{"error": result.Body})
}

type sendCardRequest struct {
	TicketID string    `json:"ticket_id"`
	Card     card.Card `json:"card"`
}

func (s *Server) handleSendCard(w http.ResponseWriter, r *http.Request) {
	var req sendCardRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if req.TicketID == "" || len(req.Card) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing ticket_id or card"})
		return
	}

	if err := s.validator.Validate(req.Card); err != nil {
		var se *card.SchemaError
		if errors.As(err, &se) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": se.Error()})
			return
		}
		s.logger.Error("card validation unavailable", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "card validation unavailable"})
		return
	}

	tc, ok := s.contexts.Get(req.TicketID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("ticket context for ticket %s not found", req.TicketID)})
		return
	}
	if len(tc.ConversationRef) == 0 || tc.MessageID == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("conversation reference or message id for ticket %s missing", req.TicketID)})
		return
	}

	err := s.bridge.Continue(r.Context(), tc.ConversationRef, func(turn transport.TurnHandle) error {
		return turn.UpdateCard(r.Context(), tc.MessageID, req.Card)
	})
	if err != nil {
		s.logger.Error("card update failed", "ticket_id", req.TicketID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.logger.Info("card updated", "ticket_id", req.TicketID, "message_id", tc.MessageID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "card updated"})
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logbuf.Entry{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if q := r.URL.Query().Get("since"); q != "" {
		if ms, err := strconv.ParseInt(q, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	entries := s.logs.Query(since, minLevel, limit)
	if entries == nil {
		entries = []logbuf.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
