// ABOUTME: HTTP API handlers for conversation lifecycle, messaging, and sync
// ABOUTME: Message bodies carry channel-native payloads; responses wrap adapter output

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// StartConversationRequest is the JSON body for POST /api/conversations.
// Supplying SessionID resumes a persisted session instead of starting fresh.
type StartConversationRequest struct {
	UserID      string              `json:"user_id"`
	Channel     string              `json:"channel"`
	SessionID   string              `json:"session_id,omitempty"`
	ResumePhase string              `json:"resume_phase,omitempty"`
	Preferences session.Preferences `json:"preferences"`
}

// ConversationResponse describes a started or resumed session.
type ConversationResponse struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Channel   string `json:"channel"`
	Phase     string `json:"phase"`
}

// MessageRequest is the JSON body for POST /api/messages and
// /api/messages/stream. Message is the channel-native payload, passed through
// to the session's adapter untouched. Channel, when present, must match the
// session's current binding; a stale value is rejected rather than ignored.
type MessageRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	SessionID string          `json:"session_id"`
	Channel   string          `json:"channel,omitempty"`
	Message   json.RawMessage `json:"message"`
}

// MessageResponse wraps one processed turn. Response is the channel-native
// envelope produced by the adapter; Metadata is the canonical response
// metadata (confidence, agents used, response time).
type MessageResponse struct {
	ResponseID string         `json:"response_id"`
	SessionID  string         `json:"session_id"`
	Phase      string         `json:"phase"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Response   any            `json:"response"`
}

// SwitchRequest is the JSON body for POST /api/conversations/{id}/switch.
// FromChannel, when present, must match the session's current binding.
type SwitchRequest struct {
	FromChannel   string                 `json:"from_channel,omitempty"`
	ToChannel     string                 `json:"to_channel"`
	SwitchContext *session.SwitchContext `json:"switch_context,omitempty"`
}

// SwitchResponse reports the switch outcome.
type SwitchResponse struct {
	Success    bool     `json:"success"`
	DurationMs int64    `json:"duration_ms"`
	Warnings   []string `json:"warnings,omitempty"`
}

// handleConversations handles POST /api/conversations.
func (g *Gateway) handleConversations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req StartConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "internal", "invalid JSON body")
		return
	}

	if req.SessionID != "" {
		sess, err := g.manager.ResumeConversation(r.Context(), req.SessionID, session.Phase(req.ResumePhase))
		if err != nil {
			g.sendOperationError(w, err)
			return
		}
		g.sendJSON(w, http.StatusOK, conversationResponse(sess))
		return
	}

	if req.UserID == "" || req.Channel == "" {
		g.sendError(w, http.StatusBadRequest, "internal", "user_id and channel are required")
		return
	}

	sess, err := g.manager.StartConversation(r.Context(), req.UserID, req.Channel, req.Preferences)
	if err != nil {
		g.sendOperationError(w, err)
		return
	}
	g.sendJSON(w, http.StatusCreated, conversationResponse(sess))
}

// handleConversationRoutes handles /api/conversations/{id} and
// /api/conversations/{id}/switch.
func (g *Gateway) handleConversationRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/conversations/")
	parts := strings.Split(rest, "/")
	if len(parts) == 0 || parts[0] == "" {
		g.sendError(w, http.StatusBadRequest, "internal", "invalid path")
		return
	}
	sessionID := parts[0]

	switch {
	case len(parts) == 2 && parts[1] == "switch" && r.Method == http.MethodPost:
		g.handleSwitch(w, r, sessionID)
	case len(parts) == 1 && r.Method == http.MethodDelete:
		g.handleEnd(w, r, sessionID)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleSwitch(w http.ResponseWriter, r *http.Request, sessionID string) {
	var req SwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "internal", "invalid JSON body")
		return
	}
	if req.ToChannel == "" {
		g.sendError(w, http.StatusBadRequest, "internal", "to_channel is required")
		return
	}
	if !g.checkChannelBinding(w, r, sessionID, req.FromChannel) {
		return
	}

	result, err := g.manager.SwitchChannel(r.Context(), sessionID, req.ToChannel, req.SwitchContext)
	if err != nil {
		g.sendOperationError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, &SwitchResponse{
		Success:    result.Success,
		DurationMs: result.Duration.Milliseconds(),
		Warnings:   result.Warnings,
	})
}

func (g *Gateway) handleEnd(w http.ResponseWriter, r *http.Request, sessionID string) {
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "user_requested"
	}
	if err := g.manager.EndConversation(r.Context(), sessionID, reason); err != nil {
		g.sendOperationError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleMessages handles POST /api/messages.
func (g *Gateway) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, ok := g.parseMessageRequest(w, r)
	if !ok {
		return
	}

	turn, err := g.manager.ProcessMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		g.sendOperationError(w, err)
		return
	}
	if g.dedupe != nil {
		g.dedupe.Mark(req.RequestID)
	}
	g.sendJSON(w, http.StatusOK, &MessageResponse{
		ResponseID: uuid.New().String(),
		SessionID:  req.SessionID,
		Phase:      string(turn.Phase),
		Metadata:   turn.Response.Metadata,
		Response:   turn.Native,
	})
}

// handleMessageStream handles POST /api/messages/stream as SSE.
func (g *Gateway) handleMessageStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, ok := g.parseMessageRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.sendError(w, http.StatusInternalServerError, "internal", "streaming not supported")
		return
	}

	chunks, err := g.manager.StreamResponse(r.Context(), req.SessionID, req.Message)
	if err != nil {
		g.sendOperationError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for {
		select {
		case <-r.Context().Done():
			return
		case chunk, open := <-chunks:
			if !open {
				if g.dedupe != nil {
					g.dedupe.Mark(req.RequestID)
				}
				g.writeSSEEvent(w, "done", map[string]string{"session_id": req.SessionID})
				flusher.Flush()
				return
			}
			g.writeSSEEvent(w, "chunk", chunk)
			flusher.Flush()
		}
	}
}

// parseMessageRequest decodes and validates the shared message body, applying
// request deduplication. The request ID is only checked here; the handler
// marks it once the turn succeeds, so retries of failed turns pass through.
// Returns false when a response has been written.
func (g *Gateway) parseMessageRequest(w http.ResponseWriter, r *http.Request) (*MessageRequest, bool) {
	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "internal", "invalid JSON body")
		return nil, false
	}
	if req.SessionID == "" || len(req.Message) == 0 {
		g.sendError(w, http.StatusBadRequest, "internal", "session_id and message are required")
		return nil, false
	}
	if !g.checkChannelBinding(w, r, req.SessionID, req.Channel) {
		return nil, false
	}
	if g.dedupe != nil && g.dedupe.Seen(req.RequestID) {
		g.sendError(w, http.StatusConflict, "duplicate_request", "request already processed")
		return nil, false
	}
	return &req, true
}

// checkChannelBinding validates a client-supplied channel tag against the
// session's current binding. An empty tag is accepted; a stale one means the
// client missed a switch and must refresh. Returns false when a response has
// been written.
func (g *Gateway) checkChannelBinding(w http.ResponseWriter, r *http.Request, sessionID, tag string) bool {
	if tag == "" {
		return true
	}
	if !g.manager.ChannelKnown(tag) {
		g.sendError(w, http.StatusBadRequest, "unknown_channel", fmt.Sprintf("unknown channel %q", tag))
		return false
	}
	sess, err := g.manager.GetSession(r.Context(), sessionID)
	if err != nil {
		g.sendOperationError(w, err)
		return false
	}
	if sess.Channel != tag {
		g.sendError(w, http.StatusConflict, "channel_mismatch",
			fmt.Sprintf("session %s is bound to %q, not %q", sessionID, sess.Channel, tag))
		return false
	}
	return true
}

// handleSync handles POST /api/sync.
func (g *Gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req session.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendError(w, http.StatusBadRequest, "internal", "invalid JSON body")
		return
	}
	if req.UserID == "" || req.SourceChannel == "" {
		g.sendError(w, http.StatusBadRequest, "internal", "user_id and source_channel are required")
		return
	}

	result, err := g.manager.Synchronize(r.Context(), &req)
	if err != nil {
		g.sendOperationError(w, err)
		return
	}
	g.sendJSON(w, http.StatusOK, result)
}

// handleHealth handles GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	report := g.manager.Health()
	status := http.StatusOK
	if report.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	g.sendJSON(w, status, report)
}

// handleMetrics handles GET /api/metrics.
func (g *Gateway) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.sendJSON(w, http.StatusOK, g.manager.Metrics())
}

func conversationResponse(sess *session.Session) *ConversationResponse {
	return &ConversationResponse{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Channel:   sess.Channel,
		Phase:     string(sess.State.Phase),
	}
}
