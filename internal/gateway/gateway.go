// ABOUTME: HTTP server wiring for the conversation API
// ABOUTME: Routes, error code mapping, SSE helpers, graceful shutdown

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/dedupe"
	"github.com/storyweave/storyweave-gateway/internal/engine"
	"github.com/storyweave/storyweave-gateway/internal/manager"
)

// Gateway exposes the conversation manager over HTTP.
type Gateway struct {
	manager *manager.Manager
	dedupe  *dedupe.Cache
	logger  *slog.Logger

	httpServer *http.Server
}

// New creates a gateway. Pass nil logger for default.
func New(mgr *manager.Manager, cache *dedupe.Cache, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		manager: mgr,
		dedupe:  cache,
		logger:  logger.With("component", "gateway"),
	}
}

// Handler builds the route table. Exposed separately so tests can drive the
// mux without a listening server.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/conversations", g.handleConversations)
	mux.HandleFunc("/api/conversations/", g.handleConversationRoutes)
	mux.HandleFunc("/api/messages", g.handleMessages)
	mux.HandleFunc("/api/messages/stream", g.handleMessageStream)
	mux.HandleFunc("/api/sync", g.handleSync)
	mux.HandleFunc("/api/metrics", g.handleMetrics)
	mux.HandleFunc("/health", g.handleHealth)
	return mux
}

// Start begins serving on addr. Blocks until the server stops.
func (g *Gateway) Start(addr string) error {
	g.httpServer = &http.Server{
		Addr:    addr,
		Handler: g.Handler(),
	}
	g.logger.Info("HTTP server starting", "addr", addr)
	if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (g *Gateway) Shutdown(ctx context.Context) error {
	if g.httpServer == nil {
		return nil
	}
	return g.httpServer.Shutdown(ctx)
}

// codeFor maps an operation error onto an HTTP status and a stable error code.
func codeFor(err error) (int, string) {
	var te *channel.TranslationError
	switch {
	case errors.Is(err, engine.ErrUnknownChannel):
		return http.StatusBadRequest, "unknown_channel"
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound, "session_not_found"
	case errors.Is(err, engine.ErrInvalidPhaseTransition):
		return http.StatusBadRequest, "invalid_phase"
	case errors.Is(err, engine.ErrStreamingUnsupported):
		return http.StatusBadRequest, "streaming_unsupported"
	case errors.Is(err, engine.ErrSwitchRollback):
		return http.StatusConflict, "switch_rolled_back"
	case errors.As(err, &te):
		return http.StatusUnprocessableEntity, "translation_failed"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

// sendError writes a JSON error response with its stable code.
func (g *Gateway) sendError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message, "code": code})
}

// sendOperationError maps err through codeFor and writes it.
func (g *Gateway) sendOperationError(w http.ResponseWriter, err error) {
	status, code := codeFor(err)
	if status == http.StatusInternalServerError {
		g.logger.Error("request failed", "error", err)
		g.sendError(w, status, code, "internal server error")
		return
	}
	g.sendError(w, status, code, err.Error())
}

// sendJSON writes a JSON response body.
func (g *Gateway) sendJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		g.logger.Error("encoding response failed", "error", err)
	}
}

// writeSSEEvent writes a single SSE event to the response writer.
func (g *Gateway) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}
