// ABOUTME: Tests for the scripted story responder
// ABOUTME: Covers phase decisions, character extraction, and stream chunking

package agent

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

func scriptedReq(phase session.Phase, content string) *Request {
	return &Request{
		SessionID: "sess-1",
		UserID:    "child-1",
		Channel:   "web_chat",
		Phase:     phase,
		Message:   &session.Message{Type: session.TypeText, Content: content},
	}
}

func TestScripted_GreetingWithStoryRequest_SkipsToCharacterCreation(t *testing.T) {
	s := NewScripted(nil)

	reply, err := s.Respond(context.Background(), scriptedReq(session.PhaseGreeting, "Let's make a story about a fox"))
	require.NoError(t, err)

	assert.Equal(t, session.PhaseCharacterCreation, reply.NextPhase)
	assert.True(t, reply.RequiresInput)
	assert.Equal(t, []string{"scripted-storyteller"}, reply.AgentsUsed)
}

func TestScripted_GreetingDefault_MovesToEmotionCheck(t *testing.T) {
	s := NewScripted(nil)

	reply, err := s.Respond(context.Background(), scriptedReq(session.PhaseGreeting, "hello"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseEmotionCheck, reply.NextPhase)
}

func TestScripted_CharacterCreation_AllocatesReferences(t *testing.T) {
	s := NewScripted(nil)

	reply, err := s.Respond(context.Background(), scriptedReq(session.PhaseCharacterCreation, "about a fox"))
	require.NoError(t, err)

	assert.Equal(t, session.PhaseStoryBuilding, reply.NextPhase)
	assert.True(t, strings.HasPrefix(reply.CharacterID, "char-fox-"), reply.CharacterID)
	assert.NotEmpty(t, reply.StoryID)
	assert.Contains(t, reply.Content, "fox")
}

func TestScripted_StoryBuilding_Branches(t *testing.T) {
	s := NewScripted(nil)

	reply, err := s.Respond(context.Background(), scriptedReq(session.PhaseStoryBuilding, "can we change that part instead"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseStoryEditing, reply.NextPhase)

	reply, err = s.Respond(context.Background(), scriptedReq(session.PhaseStoryBuilding, "the end"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseCompletion, reply.NextPhase)
	assert.False(t, reply.RequiresInput)

	reply, err = s.Respond(context.Background(), scriptedReq(session.PhaseStoryBuilding, "the fox jumps the river"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseStoryBuilding, reply.NextPhase)
}

func TestScripted_Completion_OneMoreStory(t *testing.T) {
	s := NewScripted(nil)

	reply, err := s.Respond(context.Background(), scriptedReq(session.PhaseCompletion, "one more story please"))
	require.NoError(t, err)
	assert.Equal(t, session.PhaseStoryBuilding, reply.NextPhase)
	assert.NotEmpty(t, reply.StoryID)
}

func TestScripted_Stream_OrderedWithTerminalReply(t *testing.T) {
	s := NewScripted(nil)

	ch, err := s.Stream(context.Background(), scriptedReq(session.PhaseGreeting, "hello"))
	require.NoError(t, err)

	var chunks []*Chunk
	for c := range ch {
		chunks = append(chunks, c)
	}
	require.NotEmpty(t, chunks)

	last := chunks[len(chunks)-1]
	assert.True(t, last.Final)
	require.NotNil(t, last.Reply)
	assert.Equal(t, session.PhaseEmotionCheck, last.Reply.NextPhase)

	var rebuilt strings.Builder
	for _, c := range chunks[:len(chunks)-1] {
		assert.False(t, c.Final)
		rebuilt.WriteString(c.Content)
		rebuilt.WriteString(" ")
	}
	assert.Contains(t, last.Reply.Content, "feeling")
	assert.Contains(t, rebuilt.String(), "Hi there!")
}

func TestScripted_Respond_NilMessage(t *testing.T) {
	s := NewScripted(nil)
	_, err := s.Respond(context.Background(), &Request{SessionID: "sess-1", Phase: session.PhaseGreeting})
	assert.Error(t, err)
}
