// ABOUTME: Voice-assistant adapter for smart-speaker skills
// ABOUTME: Translates intent envelopes to canonical messages and responses to speech payloads

package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// voiceState is the voice channel's private sub-state. Fields mirror what a
// smart-speaker session needs between turns.
type voiceState struct {
	VoiceProfile string  `json:"voice_profile,omitempty"`
	SpeechRate   float64 `json:"speech_rate,omitempty"`
	Locale       string  `json:"locale,omitempty"`
	DeviceID     string  `json:"device_id,omitempty"`
	HasScreen    bool    `json:"has_screen,omitempty"`
	Reprompts    int     `json:"reprompts,omitempty"`

	// MediaRefs is the cross-adapter convention for carried media assets.
	// Voice cannot render them; imports drop them with a warning.
	MediaRefs []string `json:"media_refs,omitempty"`
}

// voicePayload is the channel-native inbound shape from the skill frontend.
type voicePayload struct {
	Utterance string `json:"utterance"`
	Intent    string `json:"intent,omitempty"`
	Locale    string `json:"locale,omitempty"`
	Device    struct {
		ID        string `json:"id,omitempty"`
		HasScreen bool   `json:"has_screen,omitempty"`
	} `json:"device"`
}

// voiceEnvelope is the channel-native outbound speech payload.
type voiceEnvelope struct {
	OutputSpeech struct {
		Type string `json:"type"`
		SSML string `json:"ssml"`
	} `json:"output_speech"`
	Reprompt         string `json:"reprompt,omitempty"`
	ShouldEndSession bool   `json:"should_end_session"`
}

// VoiceAdapter implements the voice_assistant channel.
type VoiceAdapter struct {
	caps   session.Capabilities
	logger *slog.Logger
}

// NewVoiceAdapter creates the voice-assistant adapter. A zero caps value
// selects the channel defaults.
func NewVoiceAdapter(caps session.Capabilities, logger *slog.Logger) *VoiceAdapter {
	if caps == (session.Capabilities{}) {
		caps = DefaultCapabilities(VoiceAssistant)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceAdapter{caps: caps, logger: logger.With("component", "channel", "channel", VoiceAssistant)}
}

func (a *VoiceAdapter) Name() string                       { return VoiceAssistant }
func (a *VoiceAdapter) Capabilities() session.Capabilities { return a.caps }

func (a *VoiceAdapter) InitializeSession(ctx context.Context, sess *session.Session) error {
	if _, ok := sess.ChannelState(VoiceAssistant); ok {
		return nil
	}
	st := voiceState{
		VoiceProfile: sess.Preferences.Voice,
		SpeechRate:   1.0,
		Locale:       sess.Preferences.Language,
	}
	if st.VoiceProfile == "" {
		st.VoiceProfile = "storyteller_warm"
	}
	if st.Locale == "" {
		st.Locale = "en-US"
	}
	return saveState(sess, VoiceAssistant, st)
}

func (a *VoiceAdapter) PreprocessMessage(ctx context.Context, payload json.RawMessage, sess *session.Session) (*session.Message, error) {
	var p voicePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, translationErr(VoiceAssistant, "malformed voice payload", err)
	}
	if p.Utterance == "" && p.Intent == "" {
		return nil, translationErr(VoiceAssistant, "empty utterance and intent", nil)
	}

	st := a.state(sess)
	if p.Locale != "" {
		st.Locale = p.Locale
	}
	if p.Device.ID != "" {
		st.DeviceID = p.Device.ID
		st.HasScreen = p.Device.HasScreen
	}
	if err := saveState(sess, VoiceAssistant, st); err != nil {
		return nil, err
	}

	return &session.Message{
		Type:    session.TypeVoice,
		Content: p.Utterance,
		Metadata: map[string]any{
			"capture_method":    "voice",
			"intent":            p.Intent,
			"detected_language": st.Locale,
		},
	}, nil
}

func (a *VoiceAdapter) PostprocessResponse(ctx context.Context, resp *session.Response, sess *session.Session) (*session.Response, error) {
	out := *resp
	out.Type = session.TypeVoice
	out.Content = stripMarkdown(out.Content)

	if !a.caps.Supports(resp.Type) {
		// Degrade non-speakable content to a spoken note instead of failing
		out.Content = "I made something to show you, but this speaker can only tell it. " + out.Content
		out.Meta()["degraded_from"] = string(resp.Type)
	}

	if shortened, cut := truncateContent(out.Content, a.caps.MaxContentLength); cut {
		out.Content = shortened
		out.Meta()["truncated"] = true
	}
	return &out, nil
}

func (a *VoiceAdapter) AdaptResponse(ctx context.Context, resp *session.Response, sess *session.Session) (any, error) {
	st := a.state(sess)

	rate := st.SpeechRate
	if rate <= 0 {
		rate = 1.0
	}

	var env voiceEnvelope
	env.OutputSpeech.Type = "SSML"
	env.OutputSpeech.SSML = fmt.Sprintf(`<speak><prosody rate="%.0f%%">%s</prosody></speak>`,
		rate*100, escapeSSML(resp.Content))
	env.ShouldEndSession = !resp.RequiresInput
	if resp.RequiresInput {
		env.Reprompt = repromptFor(resp.Suggestions)
		st.Reprompts++
		if err := saveState(sess, VoiceAssistant, st); err != nil {
			return nil, err
		}
	}
	return &env, nil
}

func (a *VoiceAdapter) ExportState(sess *session.Session) (json.RawMessage, error) {
	return json.Marshal(a.state(sess))
}

func (a *VoiceAdapter) ImportState(sess *session.Session, state json.RawMessage, switchCtx *session.SwitchContext) ([]string, error) {
	if stateOversized(state) {
		return nil, fmt.Errorf("inbound %s state exceeds %d bytes", VoiceAssistant, session.MaxChannelStateBytes)
	}

	st := a.state(sess)
	inbound := voiceState{}
	if len(state) > 0 {
		// Partial or foreign-shaped state is fine; unknown fields are
		// ignored and absent ones keep their defaults.
		if err := json.Unmarshal(state, &inbound); err != nil {
			a.logger.Warn("unparseable inbound state, using defaults", "error", err)
			inbound = voiceState{}
		}
	}

	merge := switchCtx != nil && switchCtx.PreserveState
	if !merge {
		st = voiceState{SpeechRate: 1.0}
	}
	if inbound.VoiceProfile != "" {
		st.VoiceProfile = inbound.VoiceProfile
	}
	if inbound.Locale != "" {
		st.Locale = inbound.Locale
	}
	if inbound.SpeechRate > 0 {
		st.SpeechRate = inbound.SpeechRate
	}
	if st.VoiceProfile == "" {
		st.VoiceProfile = "storyteller_warm"
	}
	if st.Locale == "" {
		st.Locale = "en-US"
	}

	var warnings []string
	if len(inbound.MediaRefs) > 0 {
		warnings = append(warnings, fmt.Sprintf("images dropped: %s has no image support (%d assets)",
			VoiceAssistant, len(inbound.MediaRefs)))
	}

	if err := saveState(sess, VoiceAssistant, st); err != nil {
		return warnings, err
	}
	return warnings, nil
}

func (a *VoiceAdapter) CleanupSession(ctx context.Context, sess *session.Session) error {
	st := a.state(sess)
	if st.Reprompts > 0 {
		a.logger.Debug("discarding reprompt tracking", "session_id", sess.ID, "reprompts", st.Reprompts)
	}
	sess.ClearChannelState(VoiceAssistant)
	return nil
}

// state loads the channel sub-state, falling back to defaults on absent or
// malformed entries.
func (a *VoiceAdapter) state(sess *session.Session) voiceState {
	st := voiceState{SpeechRate: 1.0, Locale: "en-US", VoiceProfile: "storyteller_warm"}
	raw, ok := sess.ChannelState(VoiceAssistant)
	if !ok {
		return st
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		a.logger.Warn("corrupt voice state, resetting", "session_id", sess.ID, "error", err)
		return voiceState{SpeechRate: 1.0, Locale: "en-US", VoiceProfile: "storyteller_warm"}
	}
	return st
}

// repromptFor builds a gentle follow-up prompt, preferring the first
// suggestion when one exists.
func repromptFor(suggestions []string) string {
	if len(suggestions) > 0 && suggestions[0] != "" {
		return "You could say: " + suggestions[0]
	}
	return "What happens next in our story?"
}
