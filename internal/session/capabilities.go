// ABOUTME: Capability set describing what a channel can render and sustain
// ABOUTME: Snapshotted onto a session at start and replaced wholesale on switch

package session

import "time"

// Capabilities describes what a delivery channel can render and the limits
// it operates under. A session holds an immutable snapshot of the active
// channel's capabilities for as long as that binding lasts.
type Capabilities struct {
	SupportsText      bool `json:"supports_text"`
	SupportsVoice     bool `json:"supports_voice"`
	SupportsImages    bool `json:"supports_images"`
	SupportsFiles     bool `json:"supports_files"`
	SupportsStreaming bool `json:"supports_streaming"`
	SupportsOffline   bool `json:"supports_offline"`
	SupportsRealtime  bool `json:"supports_realtime"`

	// MaxResponseTime is the longest the channel can wait for a response
	// before its own transport gives up (e.g. a voice platform timeout).
	MaxResponseTime time.Duration `json:"max_response_time"`

	// MaxContentLength bounds response content in bytes. Postprocessing
	// truncates over-length content rather than failing the message.
	MaxContentLength int `json:"max_content_length"`
}

// Supports reports whether the capability set can carry the given canonical
// message type.
func (c Capabilities) Supports(t MessageType) bool {
	switch t {
	case TypeText:
		return c.SupportsText
	case TypeVoice:
		return c.SupportsVoice
	case TypeImage:
		return c.SupportsImages
	case TypeFile:
		return c.SupportsFiles
	case TypeAction:
		return c.SupportsText || c.SupportsVoice
	}
	return false
}
