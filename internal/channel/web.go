// ABOUTME: Web-chat adapter for the browser widget
// ABOUTME: Renders canonical markdown responses to HTML and supports streaming

package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/yuin/goldmark"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

const webAttachmentCap = 32

// webState is the web channel's private sub-state.
type webState struct {
	ClientID    string `json:"client_id,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	RenderMode  string `json:"render_mode,omitempty"` // "html" or "markdown"
	UnreadCount int    `json:"unread_count,omitempty"`
	Locale      string `json:"locale,omitempty"`

	MediaRefs []string `json:"media_refs,omitempty"`

	// PendingUploads tracks attachment uploads started mid-stream; released
	// if the stream is abandoned.
	PendingUploads []string `json:"pending_uploads,omitempty"`
}

// webPayload is the channel-native inbound shape from the chat widget.
type webPayload struct {
	Text        string `json:"text"`
	Attachments []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		URL  string `json:"url"`
	} `json:"attachments,omitempty"`
	Client struct {
		ID        string `json:"id,omitempty"`
		UserAgent string `json:"user_agent,omitempty"`
		Locale    string `json:"locale,omitempty"`
	} `json:"client"`
}

// webEnvelope is the channel-native outbound message for the widget.
type webEnvelope struct {
	MessageID     string   `json:"message_id"`
	HTML          string   `json:"html"`
	Text          string   `json:"text"`
	Suggestions   []string `json:"suggestions,omitempty"`
	RequiresInput bool     `json:"requires_input"`
	Timestamp     string   `json:"timestamp"`
}

// WebChatAdapter implements the web_chat channel.
type WebChatAdapter struct {
	caps   session.Capabilities
	md     goldmark.Markdown
	logger *slog.Logger
}

// NewWebChatAdapter creates the web-chat adapter. A zero caps value selects
// the channel defaults.
func NewWebChatAdapter(caps session.Capabilities, logger *slog.Logger) *WebChatAdapter {
	if caps == (session.Capabilities{}) {
		caps = DefaultCapabilities(WebChat)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebChatAdapter{
		caps:   caps,
		md:     goldmark.New(),
		logger: logger.With("component", "channel", "channel", WebChat),
	}
}

func (a *WebChatAdapter) Name() string                       { return WebChat }
func (a *WebChatAdapter) Capabilities() session.Capabilities { return a.caps }

func (a *WebChatAdapter) InitializeSession(ctx context.Context, sess *session.Session) error {
	if _, ok := sess.ChannelState(WebChat); ok {
		return nil
	}
	st := webState{
		RenderMode: "html",
		Locale:     sess.Preferences.Language,
	}
	return saveState(sess, WebChat, st)
}

func (a *WebChatAdapter) PreprocessMessage(ctx context.Context, payload json.RawMessage, sess *session.Session) (*session.Message, error) {
	var p webPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, translationErr(WebChat, "malformed chat payload", err)
	}
	if p.Text == "" && len(p.Attachments) == 0 {
		return nil, translationErr(WebChat, "empty message", nil)
	}

	st := a.state(sess)
	if p.Client.ID != "" {
		st.ClientID = p.Client.ID
		st.UserAgent = p.Client.UserAgent
	}
	if p.Client.Locale != "" {
		st.Locale = p.Client.Locale
	}

	msgType := session.TypeText
	meta := map[string]any{
		"capture_method":    "keyboard",
		"detected_language": st.Locale,
	}
	if len(p.Attachments) > 0 {
		refs := make([]string, 0, len(p.Attachments))
		for _, att := range p.Attachments {
			refs = append(refs, att.URL)
			if msgType == session.TypeText && p.Text == "" {
				msgType = classifyMime(att.Mime)
			}
		}
		st.MediaRefs = capList(append(st.MediaRefs, refs...), webAttachmentCap)
		meta["attachments"] = refs
	}
	if err := saveState(sess, WebChat, st); err != nil {
		return nil, err
	}

	return &session.Message{Type: msgType, Content: p.Text, Metadata: meta}, nil
}

func (a *WebChatAdapter) PostprocessResponse(ctx context.Context, resp *session.Response, sess *session.Session) (*session.Response, error) {
	out := *resp
	if shortened, cut := truncateContent(out.Content, a.caps.MaxContentLength); cut {
		out.Content = shortened
		out.Meta()["truncated"] = true
	}
	return &out, nil
}

func (a *WebChatAdapter) AdaptResponse(ctx context.Context, resp *session.Response, sess *session.Session) (any, error) {
	var htmlBuf bytes.Buffer
	if err := a.md.Convert([]byte(resp.Content), &htmlBuf); err != nil {
		return nil, translationErr(WebChat, "markdown rendering failed", err)
	}

	return &webEnvelope{
		MessageID:     uuid.New().String(),
		HTML:          htmlBuf.String(),
		Text:          resp.Content,
		Suggestions:   resp.Suggestions,
		RequiresInput: resp.RequiresInput,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func (a *WebChatAdapter) ExportState(sess *session.Session) (json.RawMessage, error) {
	return json.Marshal(a.state(sess))
}

func (a *WebChatAdapter) ImportState(sess *session.Session, state json.RawMessage, switchCtx *session.SwitchContext) ([]string, error) {
	if stateOversized(state) {
		return nil, fmt.Errorf("inbound %s state exceeds %d bytes", WebChat, session.MaxChannelStateBytes)
	}

	st := a.state(sess)
	inbound := webState{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &inbound); err != nil {
			a.logger.Warn("unparseable inbound state, using defaults", "error", err)
			inbound = webState{}
		}
	}

	if switchCtx != nil && switchCtx.PreserveState {
		// Merge: keep local identity, fold in carried media
		st.MediaRefs = capList(mergeRefs(st.MediaRefs, inbound.MediaRefs), webAttachmentCap)
		if st.Locale == "" {
			st.Locale = inbound.Locale
		}
	} else {
		st = inbound
		st.PendingUploads = nil
		st.MediaRefs = capList(st.MediaRefs, webAttachmentCap)
	}
	if st.RenderMode == "" {
		st.RenderMode = "html"
	}

	if err := saveState(sess, WebChat, st); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *WebChatAdapter) CleanupSession(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	for _, upload := range st.PendingUploads {
		// Uploads may have already expired server-side; that's fine.
		a.logger.Debug("releasing pending upload", "session_id", sess.ID, "upload", upload)
	}
	sess.ClearChannelState(WebChat)
	return nil
}

// ReleaseStreamArtifacts discards uploads started during an abandoned stream.
func (a *WebChatAdapter) ReleaseStreamArtifacts(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	if len(st.PendingUploads) == 0 {
		return nil
	}
	a.logger.Debug("discarding stream uploads", "session_id", sess.ID, "count", len(st.PendingUploads))
	st.PendingUploads = nil
	return saveState(sess, WebChat, st)
}

func (a *WebChatAdapter) state(sess *session.Session) webState {
	st := webState{RenderMode: "html"}
	raw, ok := sess.ChannelState(WebChat)
	if !ok {
		return st
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		a.logger.Warn("corrupt web state, resetting", "session_id", sess.ID, "error", err)
		return webState{RenderMode: "html"}
	}
	return st
}

// classifyMime maps an attachment mime type onto a canonical message type.
func classifyMime(mime string) session.MessageType {
	switch {
	case len(mime) >= 5 && mime[:5] == "image":
		return session.TypeImage
	case len(mime) >= 5 && mime[:5] == "audio":
		return session.TypeVoice
	default:
		return session.TypeFile
	}
}

// capList bounds an accumulating list, keeping the most recent entries.
func capList(list []string, max int) []string {
	if len(list) <= max {
		return list
	}
	return list[len(list)-max:]
}

// mergeRefs appends refs not already present.
func mergeRefs(existing, inbound []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, r := range existing {
		seen[r] = true
	}
	for _, r := range inbound {
		if !seen[r] {
			existing = append(existing, r)
			seen[r] = true
		}
	}
	return existing
}
