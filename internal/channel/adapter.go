// ABOUTME: Channel adapter contract between delivery surfaces and the engine
// ABOUTME: Adapters translate channel-native payloads to/from canonical envelopes

package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// Registered channel tags. Each tag names one concrete adapter variant.
const (
	VoiceAssistant = "voice_assistant"
	WebChat        = "web_chat"
	MobileVoice    = "mobile_voice"
	DirectAPI      = "direct_api"
)

// Adapter is the contract every delivery channel implements. All adapters
// produce and consume only the canonical session.Message/session.Response
// shapes at the engine boundary; channel-native formats appear exclusively
// in PreprocessMessage input and AdaptResponse output.
type Adapter interface {
	// Name returns the channel tag this adapter is registered under.
	Name() string

	// Capabilities returns the channel's static capability set.
	Capabilities() session.Capabilities

	// InitializeSession populates the session's channel sub-state with
	// channel-specific defaults. Idempotent: a second call for the same
	// session leaves existing sub-state in place.
	InitializeSession(ctx context.Context, sess *session.Session) error

	// PreprocessMessage converts a channel-native payload into a canonical
	// message, tagging metadata later stages may need. Malformed or
	// unsupported input fails with a *TranslationError.
	PreprocessMessage(ctx context.Context, payload json.RawMessage, sess *session.Session) (*session.Message, error)

	// PostprocessResponse enriches or degrades a canonical response for the
	// channel (truncation under MaxContentLength, battery/network
	// shortening). The result is still canonical.
	PostprocessResponse(ctx context.Context, resp *session.Response, sess *session.Session) (*session.Response, error)

	// AdaptResponse emits the exact channel-native wire payload. This is
	// the only place channel-native shape leaves the adapter.
	AdaptResponse(ctx context.Context, resp *session.Response, sess *session.Session) (any, error)

	// ExportState serializes the adapter's private sub-state for
	// persistence or channel-switch transfer.
	ExportState(sess *session.Session) (json.RawMessage, error)

	// ImportState deserializes sub-state exported by this or another
	// adapter. Absent or partially-shaped fields fall back to defaults;
	// the returned warnings note any capability degradation applied.
	// When switchCtx.PreserveState is set the inbound snapshot is merged
	// into existing sub-state rather than replacing it.
	ImportState(sess *session.Session, state json.RawMessage, switchCtx *session.SwitchContext) ([]string, error)

	// CleanupSession releases channel-owned external resources and removes
	// the channel's sub-state entry. Resources that no longer exist are
	// not an error; the adapter logs and continues.
	CleanupSession(ctx context.Context, sess *session.Session) error
}

// StreamArtifactReleaser is an optional interface for adapters that create
// temporary channel-owned artifacts mid-stream (e.g. partially uploaded
// audio). The engine calls it when an in-flight stream is cancelled.
type StreamArtifactReleaser interface {
	ReleaseStreamArtifacts(ctx context.Context, sess *session.Session) error
}

// HealthReporter is an optional interface for adapters that can report
// their own health. Adapters without it are assumed healthy once registered.
type HealthReporter interface {
	Healthy() bool
}

// TranslationError reports a failed channel translation: malformed native
// payload or content the channel cannot carry. It is never silently
// dropped; the engine surfaces it with channel context attached.
type TranslationError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *TranslationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Reason)
}

func (e *TranslationError) Unwrap() error { return e.Err }

// translationErr builds a TranslationError for the given channel.
func translationErr(channel, reason string, err error) *TranslationError {
	return &TranslationError{Channel: channel, Reason: reason, Err: err}
}

// stateOversized reports whether an inbound sub-state blob exceeds the
// per-channel cap.
func stateOversized(raw json.RawMessage) bool {
	return len(raw) > session.MaxChannelStateBytes
}
