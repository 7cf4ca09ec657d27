// ABOUTME: Mobile-voice adapter for the phone app with push and offline support
// ABOUTME: Shortens responses under battery/network pressure; no streaming

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

const (
	mobileQueueCap = 32
	mobileCacheCap = 32
)

// mobileState is the mobile channel's private sub-state.
type mobileState struct {
	DeviceID     string `json:"device_id,omitempty"`
	PushToken    string `json:"push_token,omitempty"`
	VoiceProfile string `json:"voice_profile,omitempty"`
	Locale       string `json:"locale,omitempty"`

	NetworkType  string `json:"network_type,omitempty"` // "wifi" or "cellular"
	Metered      bool   `json:"metered,omitempty"`
	BatterySaver bool   `json:"battery_saver,omitempty"`

	// OfflineQueue holds message IDs captured while disconnected, capped so
	// a long-lived session cannot grow without bound.
	OfflineQueue []string `json:"offline_queue,omitempty"`

	// CacheIndex lists asset refs the app has cached for offline playback.
	CacheIndex []string `json:"cache_index,omitempty"`

	MediaRefs []string `json:"media_refs,omitempty"`
}

// mobilePayload is the channel-native inbound shape from the app.
type mobilePayload struct {
	Content     string `json:"content"`
	InputMethod string `json:"input_method,omitempty"` // "voice" or "keyboard"
	AudioRef    string `json:"audio_ref,omitempty"`
	Device      struct {
		ID        string `json:"id,omitempty"`
		PushToken string `json:"push_token,omitempty"`
		Locale    string `json:"locale,omitempty"`
	} `json:"device"`
	Network struct {
		Type    string `json:"type,omitempty"`
		Metered bool   `json:"metered,omitempty"`
	} `json:"network"`
	Battery struct {
		Level int  `json:"level,omitempty"`
		Saver bool `json:"saver,omitempty"`
	} `json:"battery"`
	OfflineQueued []string `json:"offline_queued,omitempty"`
}

// mobileEnvelope is the channel-native outbound payload for the app.
type mobileEnvelope struct {
	ResponseID   string   `json:"response_id"`
	Content      string   `json:"content"`
	AudioURL     string   `json:"audio_url,omitempty"`
	QuickActions []string `json:"quick_actions,omitempty"`
	Push         *struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"push,omitempty"`
	CacheHints []string `json:"cache_hints,omitempty"`
}

// MobileVoiceAdapter implements the mobile_voice channel.
type MobileVoiceAdapter struct {
	caps   session.Capabilities
	logger *slog.Logger
}

// NewMobileVoiceAdapter creates the mobile-voice adapter. A zero caps value
// selects the channel defaults.
func NewMobileVoiceAdapter(caps session.Capabilities, logger *slog.Logger) *MobileVoiceAdapter {
	if caps == (session.Capabilities{}) {
		caps = DefaultCapabilities(MobileVoice)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MobileVoiceAdapter{caps: caps, logger: logger.With("component", "channel", "channel", MobileVoice)}
}

func (a *MobileVoiceAdapter) Name() string                       { return MobileVoice }
func (a *MobileVoiceAdapter) Capabilities() session.Capabilities { return a.caps }

func (a *MobileVoiceAdapter) InitializeSession(ctx context.Context, sess *session.Session) error {
	if _, ok := sess.ChannelState(MobileVoice); ok {
		return nil
	}
	st := mobileState{
		VoiceProfile: sess.Preferences.Voice,
		Locale:       sess.Preferences.Language,
	}
	if st.VoiceProfile == "" {
		st.VoiceProfile = "storyteller_warm"
	}
	return saveState(sess, MobileVoice, st)
}

func (a *MobileVoiceAdapter) PreprocessMessage(ctx context.Context, payload json.RawMessage, sess *session.Session) (*session.Message, error) {
	var p mobilePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, translationErr(MobileVoice, "malformed mobile payload", err)
	}
	if p.Content == "" && p.AudioRef == "" {
		return nil, translationErr(MobileVoice, "empty content and audio reference", nil)
	}

	st := a.state(sess)
	if p.Device.ID != "" {
		st.DeviceID = p.Device.ID
	}
	if p.Device.PushToken != "" {
		st.PushToken = p.Device.PushToken
	}
	if p.Device.Locale != "" {
		st.Locale = p.Device.Locale
	}
	if p.Network.Type != "" {
		st.NetworkType = p.Network.Type
		st.Metered = p.Network.Metered
	}
	st.BatterySaver = p.Battery.Saver
	if len(p.OfflineQueued) > 0 {
		st.OfflineQueue = capList(append(st.OfflineQueue, p.OfflineQueued...), mobileQueueCap)
	}
	if err := saveState(sess, MobileVoice, st); err != nil {
		return nil, err
	}

	msgType := session.TypeText
	capture := p.InputMethod
	if p.AudioRef != "" || p.InputMethod == "voice" {
		msgType = session.TypeVoice
		capture = "voice"
	}
	return &session.Message{
		Type:    msgType,
		Content: p.Content,
		Metadata: map[string]any{
			"capture_method":    capture,
			"detected_language": st.Locale,
			"audio_ref":         p.AudioRef,
			"offline_replayed":  len(p.OfflineQueued),
		},
	}, nil
}

func (a *MobileVoiceAdapter) PostprocessResponse(ctx context.Context, resp *session.Response, sess *session.Session) (*session.Response, error) {
	st := a.state(sess)
	out := *resp

	limit := a.caps.MaxContentLength
	// Under battery-saver or a metered connection, hand back a tighter
	// response so the app spends less radio and screen time on it.
	if st.BatterySaver || st.Metered {
		limit = limit / 4
		out.Meta()["compressed"] = true
	}
	if shortened, cut := truncateContent(out.Content, limit); cut {
		out.Content = shortened
		out.Meta()["truncated"] = true
	}
	return &out, nil
}

func (a *MobileVoiceAdapter) AdaptResponse(ctx context.Context, resp *session.Response, sess *session.Session) (any, error) {
	st := a.state(sess)

	env := &mobileEnvelope{
		ResponseID:   uuid.New().String(),
		Content:      resp.Content,
		QuickActions: resp.Suggestions,
	}
	if audio, ok := resp.Metadata["audio_url"].(string); ok {
		env.AudioURL = audio
		if a.caps.SupportsOffline {
			env.CacheHints = []string{audio}
			st.CacheIndex = capList(append(st.CacheIndex, audio), mobileCacheCap)
			if err := saveState(sess, MobileVoice, st); err != nil {
				return nil, err
			}
		}
	}
	if !resp.RequiresInput && st.PushToken != "" {
		env.Push = &struct {
			Title string `json:"title"`
			Body  string `json:"body"`
		}{Title: "Your story is ready!", Body: firstSentence(resp.Content)}
	}
	return env, nil
}

func (a *MobileVoiceAdapter) ExportState(sess *session.Session) (json.RawMessage, error) {
	return json.Marshal(a.state(sess))
}

func (a *MobileVoiceAdapter) ImportState(sess *session.Session, state json.RawMessage, switchCtx *session.SwitchContext) ([]string, error) {
	if stateOversized(state) {
		return nil, fmt.Errorf("inbound %s state exceeds %d bytes", MobileVoice, session.MaxChannelStateBytes)
	}

	st := a.state(sess)
	inbound := mobileState{}
	if len(state) > 0 {
		if err := json.Unmarshal(state, &inbound); err != nil {
			a.logger.Warn("unparseable inbound state, using defaults", "error", err)
			inbound = mobileState{}
		}
	}

	if switchCtx != nil && switchCtx.PreserveState {
		st.MediaRefs = capList(mergeRefs(st.MediaRefs, inbound.MediaRefs), mobileCacheCap)
		st.CacheIndex = capList(mergeRefs(st.CacheIndex, inbound.CacheIndex), mobileCacheCap)
		if st.VoiceProfile == "" {
			st.VoiceProfile = inbound.VoiceProfile
		}
		if st.Locale == "" {
			st.Locale = inbound.Locale
		}
	} else {
		// Device identity is per-install; keep the local one when we have it.
		deviceID, pushToken := st.DeviceID, st.PushToken
		st = inbound
		if deviceID != "" {
			st.DeviceID = deviceID
		}
		if pushToken != "" {
			st.PushToken = pushToken
		}
		st.OfflineQueue = capList(st.OfflineQueue, mobileQueueCap)
		st.CacheIndex = capList(st.CacheIndex, mobileCacheCap)
		st.MediaRefs = capList(st.MediaRefs, mobileCacheCap)
	}
	if st.VoiceProfile == "" {
		st.VoiceProfile = "storyteller_warm"
	}

	var warnings []string
	if len(inbound.OfflineQueue) > mobileQueueCap {
		warnings = append(warnings, fmt.Sprintf("offline queue trimmed to %d entries", mobileQueueCap))
	}

	if err := saveState(sess, MobileVoice, st); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func (a *MobileVoiceAdapter) CleanupSession(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	if len(st.CacheIndex) > 0 {
		// Cached assets may already be evicted client-side; nothing to fail on.
		a.logger.Debug("releasing cached assets", "session_id", sess.ID, "count", len(st.CacheIndex))
	}
	sess.ClearChannelState(MobileVoice)
	return nil
}

func (a *MobileVoiceAdapter) state(sess *session.Session) mobileState {
	st := mobileState{VoiceProfile: "storyteller_warm"}
	raw, ok := sess.ChannelState(MobileVoice)
	if !ok {
		return st
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		a.logger.Warn("corrupt mobile state, resetting", "session_id", sess.ID, "error", err)
		return mobileState{VoiceProfile: "storyteller_warm"}
	}
	return st
}

// firstSentence returns content up to the first sentence break.
func firstSentence(s string) string {
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			return s[:i+1]
		}
	}
	if len(s) > 80 {
		shortened, _ := truncateContent(s, 80)
		return shortened
	}
	return s
}
