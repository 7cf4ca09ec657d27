// ABOUTME: Scripted story responder driving phase transitions by keyword heuristics
// ABOUTME: Default collaborator for local runs and the reference one for tests

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// Scripted is a deterministic story collaborator. It advances the
// conversation through the standard phases using simple keyword heuristics,
// standing in for the real story/personality agents behind the same
// interface.
type Scripted struct {
	logger *slog.Logger
}

// NewScripted creates the scripted responder. Pass nil logger for default.
func NewScripted(logger *slog.Logger) *Scripted {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scripted{logger: logger.With("component", "scripted-agent")}
}

func (s *Scripted) Respond(ctx context.Context, req *Request) (*Reply, error) {
	if req.Message == nil {
		return nil, fmt.Errorf("nil message for session %s", req.SessionID)
	}

	reply := s.replyFor(req)
	reply.Confidence = 0.9
	reply.AgentsUsed = []string{"scripted-storyteller"}
	if reply.Type == "" {
		reply.Type = session.TypeText
	}

	s.logger.Debug("scripted reply",
		"session_id", req.SessionID,
		"phase", req.Phase,
		"next_phase", reply.NextPhase)
	return reply, nil
}

// Stream splits the one-shot reply into sentence chunks. The terminal chunk
// carries the full Reply.
func (s *Scripted) Stream(ctx context.Context, req *Request) (<-chan *Chunk, error) {
	reply, err := s.Respond(ctx, req)
	if err != nil {
		return nil, err
	}

	parts := splitSentences(reply.Content)
	out := make(chan *Chunk, len(parts)+1)
	go func() {
		defer close(out)
		for _, part := range parts {
			select {
			case out <- &Chunk{Content: part}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- &Chunk{Final: true, Reply: reply}:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

// replyFor picks the next turn based on the current phase and message text.
func (s *Scripted) replyFor(req *Request) *Reply {
	text := strings.ToLower(req.Message.Content)

	switch req.Phase {
	case session.PhaseGreeting:
		// An eager kid who already wants a story skips the pleasantries
		if strings.Contains(text, "story") {
			return &Reply{
				Content:       "A story it is! Who should our story be about?",
				NextPhase:     session.PhaseCharacterCreation,
				RequiresInput: true,
				Suggestions:   []string{"A brave little fox", "A curious robot"},
			}
		}
		return &Reply{
			Content:       "Hi there! I'm so happy you're here. How are you feeling today?",
			NextPhase:     session.PhaseEmotionCheck,
			RequiresInput: true,
			Suggestions:   []string{"I'm happy!", "I'm a little tired"},
		}

	case session.PhaseEmotionCheck:
		feeling := "wonderful"
		for _, mood := range []string{"happy", "sad", "tired", "excited", "scared", "angry"} {
			if strings.Contains(text, mood) {
				feeling = mood
				break
			}
		}
		return &Reply{
			Content:       fmt.Sprintf("Thanks for telling me you're feeling %s. Let's make a story together! Who should it be about?", feeling),
			NextPhase:     session.PhaseCharacterCreation,
			RequiresInput: true,
			Suggestions:   []string{"A brave little fox", "A friendly dragon"},
		}

	case session.PhaseCharacterCreation:
		name := characterFrom(text)
		charID := "char-" + name + "-" + shortID()
		storyID := "story-" + shortID()
		return &Reply{
			Content:       fmt.Sprintf("A %s! Perfect. Once upon a time, there was a very special %s. What happens first?", name, name),
			NextPhase:     session.PhaseStoryBuilding,
			RequiresInput: true,
			CharacterID:   charID,
			StoryID:       storyID,
			Suggestions:   []string{"They went exploring", "They found a friend"},
		}

	case session.PhaseStoryBuilding:
		switch {
		case containsAny(text, "change", "instead", "edit", "different"):
			return &Reply{
				Content:       "Of course, let's change that part. How should it go instead?",
				NextPhase:     session.PhaseStoryEditing,
				RequiresInput: true,
			}
		case containsAny(text, "the end", "finish", "all done"):
			return &Reply{
				Content:     "And they all lived happily ever after. The end! You told a wonderful story.",
				NextPhase:   session.PhaseCompletion,
				Suggestions: []string{"Tell another story"},
			}
		default:
			return &Reply{
				Content:       "And then... " + req.Message.Content + ". What a twist! What happens next?",
				NextPhase:     session.PhaseStoryBuilding,
				RequiresInput: true,
				Suggestions:   []string{"Keep going", "The end"},
			}
		}

	case session.PhaseStoryEditing:
		return &Reply{
			Content:       "Done! I've changed it just like you said. Shall we keep going?",
			NextPhase:     session.PhaseStoryBuilding,
			RequiresInput: true,
		}

	case session.PhaseCompletion:
		if containsAny(text, "another", "more", "again") {
			return &Reply{
				Content:       "One more story coming right up! What should this one be about?",
				NextPhase:     session.PhaseStoryBuilding,
				RequiresInput: true,
				StoryID:       "story-" + shortID(),
			}
		}
		return &Reply{
			Content:   "I loved making stories with you. Come back soon!",
			NextPhase: session.PhaseCompletion,
		}
	}

	// Unknown current phase; hold position and ask again
	return &Reply{
		Content:       "Let's keep going with our story. What happens next?",
		NextPhase:     req.Phase,
		RequiresInput: true,
	}
}

// characterFrom pulls a character noun out of "a story about a fox" style
// text, defaulting to "hero".
func characterFrom(text string) string {
	if idx := strings.LastIndex(text, "about"); idx >= 0 {
		rest := strings.TrimSpace(text[idx+len("about"):])
		rest = strings.TrimPrefix(rest, "a ")
		rest = strings.TrimPrefix(rest, "an ")
		rest = strings.TrimPrefix(rest, "the ")
		if fields := strings.Fields(rest); len(fields) > 0 {
			return strings.Trim(fields[len(fields)-1], ".!?,")
		}
	}
	if fields := strings.Fields(text); len(fields) > 0 {
		return strings.Trim(fields[len(fields)-1], ".!?,")
	}
	return "hero"
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func shortID() string {
	return uuid.New().String()[:8]
}

// splitSentences breaks content into streamable sentence chunks.
func splitSentences(content string) []string {
	var parts []string
	var b strings.Builder
	for _, r := range content {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(b.String()); s != "" {
				parts = append(parts, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		parts = append(parts, s)
	}
	return parts
}
