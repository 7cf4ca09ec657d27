// ABOUTME: HTTP-level tests for the gateway using httptest
// ABOUTME: Covers lifecycle routes, error codes, dedupe, and SSE streaming

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave-gateway/internal/agent"
	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/dedupe"
	"github.com/storyweave/storyweave-gateway/internal/engine"
	"github.com/storyweave/storyweave-gateway/internal/manager"
	"github.com/storyweave/storyweave-gateway/internal/session"
	"github.com/storyweave/storyweave-gateway/internal/store"
)

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	reg := channel.NewRegistry(nil)
	require.NoError(t, reg.Register(channel.NewVoiceAdapter(session.Capabilities{}, nil)))
	require.NoError(t, reg.Register(channel.NewWebChatAdapter(session.Capabilities{}, nil)))
	require.NoError(t, reg.Register(channel.NewMobileVoiceAdapter(session.Capabilities{}, nil)))
	require.NoError(t, reg.Register(channel.NewDirectAPIAdapter(session.Capabilities{}, nil)))

	eng := engine.New(reg, agent.NewScripted(nil), store.NewMockStore(), nil)
	mgr := manager.New(eng, reg, nil)

	cache := dedupe.NewCache(time.Minute, 100, nil)
	t.Cleanup(cache.Close)
	return New(mgr, cache, nil)
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func startSession(t *testing.T, h http.Handler, userID, tag string) string {
	t.Helper()
	rec := doJSON(t, h, http.MethodPost, "/api/conversations",
		fmt.Sprintf(`{"user_id":%q,"channel":%q}`, userID, tag))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.SessionID
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["code"]
}

func TestGateway_StartConversation(t *testing.T) {
	h := newTestGateway(t).Handler()

	rec := doJSON(t, h, http.MethodPost, "/api/conversations",
		`{"user_id":"child-1","channel":"web_chat","preferences":{"language":"en-US"}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "web_chat", resp.Channel)
	assert.Equal(t, "greeting", resp.Phase)
}

func TestGateway_StartConversation_UnknownChannel(t *testing.T) {
	h := newTestGateway(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/conversations",
		`{"user_id":"child-1","channel":"smoke_signals"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_channel", errorCode(t, rec))
}

func TestGateway_ResumeConversation(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/conversations",
		fmt.Sprintf(`{"session_id":%q,"resume_phase":"story_building"}`, id))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp ConversationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, id, resp.SessionID)
	assert.Equal(t, "story_building", resp.Phase)
}

func TestGateway_ProcessMessage(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"request_id":"req-1","session_id":%q,"message":{"text":"Let's make a story","client":{"id":"b"}}}`, id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ResponseID)
	assert.Equal(t, "character_creation", resp.Phase)
	assert.NotNil(t, resp.Response)
}

func TestGateway_ProcessMessage_Duplicate(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	body := fmt.Sprintf(`{"request_id":"req-1","session_id":%q,"message":{"text":"hi","client":{"id":"b"}}}`, id)
	rec := doJSON(t, h, http.MethodPost, "/api/messages", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/messages", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_request", errorCode(t, rec))
}

func TestGateway_ProcessMessage_TranslationFailed(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"session_id":%q,"message":{"client":{"id":"b"}}}`, id))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "translation_failed", errorCode(t, rec))
}

func TestGateway_ProcessMessage_UnknownSession(t *testing.T) {
	h := newTestGateway(t).Handler()
	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		`{"session_id":"nope","message":{"text":"hi"}}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "session_not_found", errorCode(t, rec))
}

func TestGateway_StreamMessages_SSE(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/messages/stream",
		fmt.Sprintf(`{"session_id":%q,"message":{"text":"hello","client":{"id":"b"}}}`, id))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "event: chunk")
	assert.Contains(t, body, `"is_final":true`)
	assert.Contains(t, body, "event: done")
}

func TestGateway_StreamMessages_Unsupported(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "mobile_voice")

	rec := doJSON(t, h, http.MethodPost, "/api/messages/stream",
		fmt.Sprintf(`{"session_id":%q,"message":{"content":"hi"}}`, id))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "streaming_unsupported", errorCode(t, rec))
}

func TestGateway_SwitchChannel(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/conversations/"+id+"/switch",
		`{"to_channel":"voice_assistant","switch_context":{"reason":"left_computer"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp SwitchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestGateway_SwitchChannel_UnknownTarget(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/conversations/"+id+"/switch",
		`{"to_channel":"smoke_signals"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_channel", errorCode(t, rec))
}

func TestGateway_EndConversation_Idempotent(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodDelete, "/api/conversations/"+id+"?reason=bedtime", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/api/conversations/"+id, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGateway_Sync(t *testing.T) {
	h := newTestGateway(t).Handler()
	startSession(t, h, "child-1", "web_chat")
	startSession(t, h, "child-1", "mobile_voice")

	rec := doJSON(t, h, http.MethodPost, "/api/sync",
		`{"user_id":"child-1","source_channel":"web_chat","target_channels":["mobile_voice"]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var result session.SyncResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)
	assert.Empty(t, result.Conflicts)
}

func TestGateway_HealthAndMetrics(t *testing.T) {
	h := newTestGateway(t).Handler()
	startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health manager.HealthReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 1, health.ActiveSessions)
	assert.Len(t, health.Channels, 4)

	rec = doJSON(t, h, http.MethodGet, "/api/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics manager.MetricsReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.Equal(t, int64(1), metrics.Channels["web_chat"].Requests)
}

func TestGateway_MethodNotAllowed(t *testing.T) {
	h := newTestGateway(t).Handler()
	rec := doJSON(t, h, http.MethodGet, "/api/messages", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGateway_ProcessMessage_ChannelMismatch(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	// Stale binding from before a switch is rejected, not silently processed
	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"session_id":%q,"channel":"mobile_voice","message":{"text":"hi","client":{"id":"b"}}}`, id))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "channel_mismatch", errorCode(t, rec))

	rec = doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"session_id":%q,"channel":"smoke_signals","message":{"text":"hi","client":{"id":"b"}}}`, id))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_channel", errorCode(t, rec))

	// The correct binding still goes through
	rec = doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"session_id":%q,"channel":"web_chat","message":{"text":"hi","client":{"id":"b"}}}`, id))
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestGateway_SwitchChannel_FromChannelMismatch(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/conversations/"+id+"/switch",
		`{"from_channel":"mobile_voice","to_channel":"direct_api"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "channel_mismatch", errorCode(t, rec))

	// The session was not switched
	rec = doJSON(t, h, http.MethodPost, "/api/conversations/"+id+"/switch",
		`{"from_channel":"web_chat","to_channel":"direct_api"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SwitchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestGateway_ProcessMessage_ResponseMetadata(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"session_id":%q,"message":{"text":"hello","client":{"id":"b"}}}`, id))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp MessageResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Metadata)
	assert.Contains(t, resp.Metadata, "response_time_ms")
	assert.Contains(t, resp.Metadata, "confidence")
	assert.Contains(t, resp.Metadata, "agents_used")
}

func TestGateway_ProcessMessage_RetryAfterFailureNotDeduped(t *testing.T) {
	h := newTestGateway(t).Handler()
	id := startSession(t, h, "child-1", "web_chat")

	// First attempt fails translation; its request ID must stay unclaimed
	rec := doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"request_id":"req-7","session_id":%q,"message":{"client":{"id":"b"}}}`, id))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// The retry with a fixed payload succeeds
	rec = doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"request_id":"req-7","session_id":%q,"message":{"text":"hi","client":{"id":"b"}}}`, id))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// Only now is the ID consumed
	rec = doJSON(t, h, http.MethodPost, "/api/messages",
		fmt.Sprintf(`{"request_id":"req-7","session_id":%q,"message":{"text":"hi","client":{"id":"b"}}}`, id))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_request", errorCode(t, rec))
}
