// ABOUTME: Direct-API adapter for raw webhook/API integrations
// ABOUTME: Accepts canonical messages directly and emits an API envelope with links

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

const apiPendingCap = 16

// apiState is the direct-API channel's private sub-state.
type apiState struct {
	WebhookURL string `json:"webhook_url,omitempty"`
	APIVersion string `json:"api_version,omitempty"`

	// PendingDeliveries tracks webhook deliveries not yet acknowledged,
	// capped so retries cannot accumulate forever.
	PendingDeliveries []string `json:"pending_deliveries,omitempty"`

	RequestCount int      `json:"request_count,omitempty"`
	MediaRefs    []string `json:"media_refs,omitempty"`
}

// apiEnvelope is the channel-native outbound wire payload.
type apiEnvelope struct {
	ResponseID string            `json:"response_id"`
	Object     string            `json:"object"`
	Data       *session.Response `json:"data"`
	Links      map[string]string `json:"links"`
	Meta       map[string]any    `json:"meta"`
}

// DirectAPIAdapter implements the direct_api channel.
type DirectAPIAdapter struct {
	caps   session.Capabilities
	logger *slog.Logger
}

// NewDirectAPIAdapter creates the direct-API adapter. A zero caps value
// selects the channel defaults.
func NewDirectAPIAdapter(caps session.Capabilities, logger *slog.Logger) *DirectAPIAdapter {
	if caps == (session.Capabilities{}) {
		caps = DefaultCapabilities(DirectAPI)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectAPIAdapter{caps: caps, logger: logger.With("component", "channel", "channel", DirectAPI)}
}

func (a *DirectAPIAdapter) Name() string                       { return DirectAPI }
func (a *DirectAPIAdapter) Capabilities() session.Capabilities { return a.caps }

func (a *DirectAPIAdapter) InitializeSession(ctx context.Context, sess *session.Session) error {
	if _, ok := sess.ChannelState(DirectAPI); ok {
		return nil
	}
	return saveState(sess, DirectAPI, apiState{APIVersion: "v1"})
}

// PreprocessMessage accepts the canonical message shape directly; the API
// channel's native format is the canonical format.
func (a *DirectAPIAdapter) PreprocessMessage(ctx context.Context, payload json.RawMessage, sess *session.Session) (*session.Message, error) {
	var msg session.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, translationErr(DirectAPI, "malformed message body", err)
	}
	if msg.Type == "" {
		msg.Type = session.TypeText
	}
	if !a.caps.Supports(msg.Type) {
		return nil, translationErr(DirectAPI, fmt.Sprintf("unsupported message type %q", msg.Type), nil)
	}
	if msg.Content == "" {
		return nil, translationErr(DirectAPI, "empty content", nil)
	}

	st := a.state(sess)
	st.RequestCount++
	if err := saveState(sess, DirectAPI, st); err != nil {
		return nil, err
	}

	if msg.Metadata == nil {
		msg.Metadata = make(map[string]any)
	}
	msg.Metadata["capture_method"] = "api"
	return &msg, nil
}

func (a *DirectAPIAdapter) PostprocessResponse(ctx context.Context, resp *session.Response, sess *session.Session) (*session.Response, error) {
	out := *resp
	if shortened, cut := truncateContent(out.Content, a.caps.MaxContentLength); cut {
		out.Content = shortened
		out.Meta()["truncated"] = true
	}
	return &out, nil
}

func (a *DirectAPIAdapter) AdaptResponse(ctx context.Context, resp *session.Response, sess *session.Session) (any, error) {
	st := a.state(sess)
	responseID := uuid.New().String()

	if st.WebhookURL != "" {
		st.PendingDeliveries = capList(append(st.PendingDeliveries, responseID), apiPendingCap)
		if err := saveState(sess, DirectAPI, st); err != nil {
			return nil, err
		}
	}

	return &apiEnvelope{
		ResponseID: responseID,
		Object:     "conversation.response",
		Data:       resp,
		Links: map[string]string{
			"self": fmt.Sprintf("/api/conversations/%s", sess.ID),
		},
		Meta: map[string]any{
			"channel":     DirectAPI,
			"api_version": st.APIVersion,
			"created_at":  time.Now().UTC().Format(time.RFC3339),
		},
	}, nil
}

func (a *DirectAPIAdapter) ExportState(sess *session.Session) (json.RawMessage, error) {
	return json.Marshal(a.state(sess))
}

func (a *DirectAPIAdapter) ImportState(sess *session.Session, state json.RawMessage, switchCtx *session.SwitchContext) ([]string, error) {
	if stateOversized(state) {
		return nil, fmt.Errorf("inbound %s state exceeds %d bytes", DirectAPI, session.MaxChannelStateBytes)
	}

	st := a.state(sess)
	inbound := apiState{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &inbound); err != nil {
			a.logger.Warn("unparseable inbound state, using defaults", "error", err)
			inbound = apiState{}
		}
	}

	if switchCtx != nil && switchCtx.PreserveState {
		st.MediaRefs = mergeRefs(st.MediaRefs, inbound.MediaRefs)
	} else {
		webhook := st.WebhookURL
		st = inbound
		if st.WebhookURL == "" {
			st.WebhookURL = webhook
		}
		st.PendingDeliveries = capList(st.PendingDeliveries, apiPendingCap)
	}
	if st.APIVersion == "" {
		st.APIVersion = "v1"
	}

	if err := saveState(sess, DirectAPI, st); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *DirectAPIAdapter) CleanupSession(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	for _, delivery := range st.PendingDeliveries {
		// The receiver may have already consumed these; log and continue.
		a.logger.Debug("abandoning pending delivery", "session_id", sess.ID, "delivery", delivery)
	}
	sess.ClearChannelState(DirectAPI)
	return nil
}

// ReleaseStreamArtifacts drops deliveries queued by an abandoned stream.
func (a *DirectAPIAdapter) ReleaseStreamArtifacts(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	if len(st.PendingDeliveries) == 0 {
		return nil
	}
	a.logger.Debug("discarding stream deliveries", "session_id", sess.ID, "count", len(st.PendingDeliveries))
	st.PendingDeliveries = nil
	return saveState(sess, DirectAPI, st)
}

func (a *DirectAPIAdapter) state(sess *session.Session) apiState {
	st := apiState{APIVersion: "v1"}
	raw, ok := sess.ChannelState(DirectAPI)
	if !ok {
		return st
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		a.logger.Warn("corrupt api state, resetting", "session_id", sess.ID, "error", err)
		return apiState{APIVersion: "v1"}
	}
	return st
}
