// ABOUTME: Core conversation session model shared across the engine and adapters
// ABOUTME: Owns phase, context, preferences, and opaque per-channel sub-state

package session

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MaxChannelStateBytes caps the size of a single channel's serialized
// sub-state. Imports over this limit are rejected rather than allowed to
// grow without bound over a long-lived session.
const MaxChannelStateBytes = 64 * 1024

// Context is the bounded accumulation of conversation progress. It is part
// of the general state every channel shares, as opposed to the opaque
// per-channel entries in ChannelStates.
type Context struct {
	TotalInteractions  int       `json:"total_interactions"`
	LastInteraction    time.Time `json:"last_interaction"`
	CurrentStoryID     string    `json:"current_story_id,omitempty"`
	CurrentCharacterID string    `json:"current_character_id,omitempty"`
}

// State is the mutable conversation state owned exclusively by its session.
// ChannelStates maps a channel tag to that channel's private sub-state; only
// the adapter for a given tag may interpret its own entry. The engine
// persists the other entries as opaque blobs and never inspects them.
type State struct {
	Phase         Phase                      `json:"phase"`
	Context       Context                    `json:"context"`
	ChannelStates map[string]json.RawMessage `json:"channel_states,omitempty"`
}

// Preferences holds user-level settings supplied at session start.
// Read-mostly for the lifetime of the session.
type Preferences struct {
	Voice         string   `json:"voice,omitempty"`
	Language      string   `json:"language,omitempty"`
	Accessibility []string `json:"accessibility,omitempty"`
}

// Session is the unit of ownership for one logical conversation. Exactly one
// session owns its State at any instant; channel switches transfer ownership
// of the binding, they never duplicate it.
type Session struct {
	ID     string
	UserID string

	// Channel is the currently active channel tag. Capabilities is the
	// snapshot taken from that channel's registration; it is replaced
	// wholesale on a channel switch, never mutated in place.
	Channel      string
	Capabilities Capabilities

	State       *State
	Preferences Preferences

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// New allocates a fresh session in the greeting phase bound to the given
// channel with the given capability snapshot.
func New(userID, channel string, caps Capabilities) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           uuid.New().String(),
		UserID:       userID,
		Channel:      channel,
		Capabilities: caps,
		State: &State{
			Phase:         PhaseGreeting,
			ChannelStates: make(map[string]json.RawMessage),
		},
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ChannelState returns the opaque sub-state blob for the given channel tag.
func (s *Session) ChannelState(tag string) (json.RawMessage, bool) {
	if s.State == nil || s.State.ChannelStates == nil {
		return nil, false
	}
	raw, ok := s.State.ChannelStates[tag]
	return raw, ok
}

// SetChannelState replaces the opaque sub-state blob for the given tag.
func (s *Session) SetChannelState(tag string, raw json.RawMessage) {
	if s.State.ChannelStates == nil {
		s.State.ChannelStates = make(map[string]json.RawMessage)
	}
	s.State.ChannelStates[tag] = raw
}

// ClearChannelState removes the sub-state entry for the given tag. Removing
// an absent entry is a no-op.
func (s *Session) ClearChannelState(tag string) {
	delete(s.State.ChannelStates, tag)
}

// Touch records an interaction: bumps the counter by exactly one and updates
// the last-interaction timestamp.
func (s *Session) Touch(now time.Time) {
	s.State.Context.TotalInteractions++
	s.State.Context.LastInteraction = now
	s.UpdatedAt = now
}
