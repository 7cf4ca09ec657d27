// ABOUTME: Tests for the session model, phases, and capability checks
// ABOUTME: Covers channel state isolation and interaction accounting

package session

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_StartsInGreeting(t *testing.T) {
	caps := Capabilities{SupportsText: true, MaxContentLength: 1024}
	s := New("child-1", "web_chat", caps)

	require.NotEmpty(t, s.ID)
	assert.Equal(t, "child-1", s.UserID)
	assert.Equal(t, "web_chat", s.Channel)
	assert.Equal(t, PhaseGreeting, s.State.Phase)
	assert.Equal(t, caps, s.Capabilities)
	assert.True(t, s.Active)
	assert.Zero(t, s.State.Context.TotalInteractions)
}

func TestPhase_Valid(t *testing.T) {
	for _, p := range []Phase{PhaseGreeting, PhaseEmotionCheck, PhaseCharacterCreation,
		PhaseStoryBuilding, PhaseStoryEditing, PhaseCompletion} {
		assert.True(t, p.Valid(), string(p))
	}
	assert.False(t, Phase("time_travel").Valid())
	assert.False(t, Phase("").Valid())
}

func TestChannelState_SetGetClear(t *testing.T) {
	s := New("child-1", "web_chat", Capabilities{})

	_, ok := s.ChannelState("web_chat")
	assert.False(t, ok)

	s.SetChannelState("web_chat", json.RawMessage(`{"client_id":"c1"}`))
	raw, ok := s.ChannelState("web_chat")
	require.True(t, ok)
	assert.JSONEq(t, `{"client_id":"c1"}`, string(raw))

	// Other channels do not see the entry
	_, ok = s.ChannelState("mobile_voice")
	assert.False(t, ok)

	s.ClearChannelState("web_chat")
	_, ok = s.ChannelState("web_chat")
	assert.False(t, ok)

	// Clearing twice is fine
	s.ClearChannelState("web_chat")
}

func TestTouch_IncrementsByExactlyOne(t *testing.T) {
	s := New("child-1", "web_chat", Capabilities{})
	now := time.Now().UTC()

	s.Touch(now)
	assert.Equal(t, 1, s.State.Context.TotalInteractions)
	assert.Equal(t, now, s.State.Context.LastInteraction)

	later := now.Add(time.Minute)
	s.Touch(later)
	assert.Equal(t, 2, s.State.Context.TotalInteractions)
	assert.Equal(t, later, s.State.Context.LastInteraction)
}

func TestCapabilities_Supports(t *testing.T) {
	voiceOnly := Capabilities{SupportsVoice: true}
	assert.True(t, voiceOnly.Supports(TypeVoice))
	assert.True(t, voiceOnly.Supports(TypeAction))
	assert.False(t, voiceOnly.Supports(TypeText))
	assert.False(t, voiceOnly.Supports(TypeImage))

	full := Capabilities{SupportsText: true, SupportsVoice: true, SupportsImages: true, SupportsFiles: true}
	for _, mt := range []MessageType{TypeText, TypeVoice, TypeImage, TypeFile, TypeAction} {
		assert.True(t, full.Supports(mt), string(mt))
	}
	assert.False(t, full.Supports(MessageType("hologram")))
}
