// ABOUTME: Default capability sets per channel tag and sub-state persistence helper
// ABOUTME: Defaults may be overridden at startup via a TOML capability file

package channel

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// DefaultCapabilities returns the built-in capability set for a channel tag.
// Unknown tags get an empty set.
func DefaultCapabilities(tag string) session.Capabilities {
	switch tag {
	case VoiceAssistant:
		return session.Capabilities{
			SupportsText:     false,
			SupportsVoice:    true,
			MaxResponseTime:  8 * time.Second,
			MaxContentLength: 8 * 1024,
		}
	case WebChat:
		return session.Capabilities{
			SupportsText:      true,
			SupportsImages:    true,
			SupportsFiles:     true,
			SupportsStreaming: true,
			SupportsRealtime:  true,
			MaxResponseTime:   30 * time.Second,
			MaxContentLength:  50 * 1024,
		}
	case MobileVoice:
		return session.Capabilities{
			SupportsText:     true,
			SupportsVoice:    true,
			SupportsImages:   true,
			SupportsOffline:  true,
			MaxResponseTime:  15 * time.Second,
			MaxContentLength: 20 * 1024,
		}
	case DirectAPI:
		return session.Capabilities{
			SupportsText:      true,
			SupportsVoice:     true,
			SupportsImages:    true,
			SupportsFiles:     true,
			SupportsStreaming: true,
			SupportsRealtime:  true,
			MaxResponseTime:   60 * time.Second,
			MaxContentLength:  256 * 1024,
		}
	}
	return session.Capabilities{}
}

// saveState marshals an adapter's sub-state into the session's channel entry.
func saveState(sess *session.Session, tag string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %s state: %w", tag, err)
	}
	sess.SetChannelState(tag, raw)
	return nil
}
