// ABOUTME: Collaborator boundary for story/content generation
// ABOUTME: The engine consumes this narrow interface; implementations decide phases

package agent

import (
	"context"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// Request carries everything a collaborator needs to produce the next turn.
type Request struct {
	SessionID string
	UserID    string
	Channel   string
	Phase     session.Phase
	Message   *session.Message
	Context   session.Context
	Prefs     session.Preferences
}

// Reply is a collaborator's resolved answer for one turn. NextPhase is the
// phase the conversation should move to; the engine persists it after
// validating the tag. Timeout and retry policy live on the collaborator
// side: by the time a Reply (or error) reaches the engine it is final.
type Reply struct {
	Content       string
	Type          session.MessageType
	NextPhase     session.Phase
	Confidence    float64
	AgentsUsed    []string
	RequiresInput bool
	Suggestions   []string

	// StoryID/CharacterID are set when the collaborator creates or changes
	// the current story or character reference.
	StoryID     string
	CharacterID string
}

// Chunk is one element of a streamed reply. The terminal chunk has Final set
// and carries the complete Reply so the caller can commit state exactly once.
type Chunk struct {
	Content string
	Final   bool
	Reply   *Reply
}

// Responder is the collaborator contract: one-shot replies and pull-based
// chunk streams. Stream channels are finite and ordered; the terminal chunk
// is always last and always present unless the context is cancelled.
type Responder interface {
	Respond(ctx context.Context, req *Request) (*Reply, error)
	Stream(ctx context.Context, req *Request) (<-chan *Chunk, error)
}
