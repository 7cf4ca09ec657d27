// ABOUTME: TOML capability override files for tuning channels per deployment
// ABOUTME: Overrides apply on top of the built-in defaults at registration time

package channel

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// CapabilityOverride holds optional per-channel capability tweaks. Nil
// pointers leave the default in place.
type CapabilityOverride struct {
	SupportsText      *bool  `toml:"supports_text"`
	SupportsVoice     *bool  `toml:"supports_voice"`
	SupportsImages    *bool  `toml:"supports_images"`
	SupportsFiles     *bool  `toml:"supports_files"`
	SupportsStreaming *bool  `toml:"supports_streaming"`
	SupportsOffline   *bool  `toml:"supports_offline"`
	SupportsRealtime  *bool  `toml:"supports_realtime"`
	MaxResponseTime   string `toml:"max_response_time"`
	MaxContentLength  *int   `toml:"max_content_length"`
}

// capabilityFile is the top-level TOML document shape:
//
//	[channels.web_chat]
//	max_content_length = 16384
//	supports_files = false
type capabilityFile struct {
	Channels map[string]CapabilityOverride `toml:"channels"`
}

// LoadCapabilityOverrides parses a TOML capability override file.
func LoadCapabilityOverrides(path string) (map[string]CapabilityOverride, error) {
	var f capabilityFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("parsing capability file %s: %w", path, err)
	}
	if f.Channels == nil {
		f.Channels = make(map[string]CapabilityOverride)
	}
	return f.Channels, nil
}

// Apply returns caps with the override's non-nil fields applied.
func (o CapabilityOverride) Apply(caps session.Capabilities) (session.Capabilities, error) {
	if o.SupportsText != nil {
		caps.SupportsText = *o.SupportsText
	}
	if o.SupportsVoice != nil {
		caps.SupportsVoice = *o.SupportsVoice
	}
	if o.SupportsImages != nil {
		caps.SupportsImages = *o.SupportsImages
	}
	if o.SupportsFiles != nil {
		caps.SupportsFiles = *o.SupportsFiles
	}
	if o.SupportsStreaming != nil {
		caps.SupportsStreaming = *o.SupportsStreaming
	}
	if o.SupportsOffline != nil {
		caps.SupportsOffline = *o.SupportsOffline
	}
	if o.SupportsRealtime != nil {
		caps.SupportsRealtime = *o.SupportsRealtime
	}
	if o.MaxResponseTime != "" {
		d, err := time.ParseDuration(o.MaxResponseTime)
		if err != nil {
			return caps, fmt.Errorf("invalid max_response_time %q: %w", o.MaxResponseTime, err)
		}
		caps.MaxResponseTime = d
	}
	if o.MaxContentLength != nil {
		caps.MaxContentLength = *o.MaxContentLength
	}
	return caps, nil
}
