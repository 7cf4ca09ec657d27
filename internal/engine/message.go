// ABOUTME: Message processing and streaming through the adapter/collaborator pipeline
// ABOUTME: Exactly one state mutation per message; streams commit on the terminal chunk

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/agent"
	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/session"
)

// Turn is the outcome of one processed message: the canonical response and
// the channel-native payload the caller should deliver.
type Turn struct {
	Response *session.Response
	Native   any
	Phase    session.Phase
}

// ProcessMessage runs one conversation turn: translate the channel-native
// payload, ask the collaborator for the next turn, commit the resulting state
// change, and adapt the response back to the channel. Translation and
// collaborator errors are surfaced without mutating the session; outbound
// adaptation errors degrade to a fallback response instead of losing the turn.
func (e *Engine) ProcessMessage(ctx context.Context, sessionID string, payload json.RawMessage) (*Turn, error) {
	start := time.Now()

	m, err := e.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.sess
	if !sess.Active {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	adapter, ok := e.registry.Get(sess.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, sess.Channel)
	}

	msg, err := adapter.PreprocessMessage(ctx, payload, sess)
	if err != nil {
		return nil, fmt.Errorf("translating inbound message: %w", err)
	}

	reply, err := e.responder.Respond(ctx, e.agentRequest(sess, msg))
	if err != nil {
		return nil, fmt.Errorf("collaborator: %w", err)
	}

	if err := e.commitReply(sess, reply); err != nil {
		return nil, err
	}
	e.persist(sess)

	resp := responseFrom(reply)
	resp.Meta()["response_time_ms"] = time.Since(start).Milliseconds()
	return e.deliver(ctx, adapter, resp, sess), nil
}

// StreamResponse runs one turn as an incremental chunk sequence. The session
// lock is held until the stream finishes; state is committed only when the
// terminal chunk arrives. A cancelled stream commits nothing and releases any
// channel artifacts created mid-stream.
func (e *Engine) StreamResponse(ctx context.Context, sessionID string, payload json.RawMessage) (<-chan *session.Chunk, error) {
	m, err := e.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	sess := m.sess
	if !sess.Active {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	if !sess.Capabilities.SupportsStreaming {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrStreamingUnsupported, sess.Channel)
	}

	adapter, ok := e.registry.Get(sess.Channel)
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, sess.Channel)
	}

	msg, err := adapter.PreprocessMessage(ctx, payload, sess)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("translating inbound message: %w", err)
	}

	chunks, err := e.responder.Stream(ctx, e.agentRequest(sess, msg))
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("collaborator: %w", err)
	}

	out := make(chan *session.Chunk, 8)
	go func() {
		defer m.mu.Unlock()
		defer close(out)
		e.forwardStream(ctx, adapter, sess, chunks, out)
	}()
	return out, nil
}

// forwardStream relays collaborator chunks to the caller and commits session
// state exactly once, when the terminal chunk arrives.
func (e *Engine) forwardStream(ctx context.Context, adapter channel.Adapter, sess *session.Session, in <-chan *agent.Chunk, out chan<- *session.Chunk) {
	committed := false
	for {
		select {
		case <-ctx.Done():
			e.abortStream(adapter, sess)
			return
		case chunk, ok := <-in:
			if !ok {
				// Collaborator closed without a terminal chunk: treat as cancelled.
				if !committed {
					e.abortStream(adapter, sess)
				}
				return
			}
			if chunk.Final && chunk.Reply != nil {
				if err := e.commitReply(sess, chunk.Reply); err != nil {
					e.logger.Error("stream commit failed", "session_id", sess.ID, "error", err)
					e.abortStream(adapter, sess)
					return
				}
				e.persist(sess)
				committed = true
			}
			select {
			case out <- &session.Chunk{Content: chunk.Content, IsFinal: chunk.Final}:
			case <-ctx.Done():
				if !committed {
					e.abortStream(adapter, sess)
				}
				return
			}
			if chunk.Final {
				return
			}
		}
	}
}

// abortStream releases channel artifacts from a cancelled or failed stream.
// No session state has been committed at this point.
func (e *Engine) abortStream(adapter channel.Adapter, sess *session.Session) {
	releaser, ok := adapter.(channel.StreamArtifactReleaser)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := releaser.ReleaseStreamArtifacts(ctx, sess); err != nil {
		e.logger.Warn("releasing stream artifacts failed", "session_id", sess.ID, "error", err)
	}
}

// commitReply applies a collaborator reply to the session: the single state
// mutation for the turn. An unknown phase tag leaves the session untouched.
func (e *Engine) commitReply(sess *session.Session, reply *agent.Reply) error {
	next := reply.NextPhase
	if next == "" {
		next = sess.State.Phase
	}
	if !next.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidPhaseTransition, next)
	}

	sess.State.Phase = next
	if reply.StoryID != "" {
		sess.State.Context.CurrentStoryID = reply.StoryID
	}
	if reply.CharacterID != "" {
		sess.State.Context.CurrentCharacterID = reply.CharacterID
	}
	sess.Touch(time.Now().UTC())
	return nil
}

// deliver runs the outbound half of the pipeline. Postprocess or adaptation
// failures degrade to a safe fallback response rather than dropping the turn.
func (e *Engine) deliver(ctx context.Context, adapter channel.Adapter, resp *session.Response, sess *session.Session) *Turn {
	post, err := adapter.PostprocessResponse(ctx, resp, sess)
	if err != nil {
		e.logger.Warn("postprocess failed, using fallback",
			"session_id", sess.ID, "channel", sess.Channel, "error", err)
		post = fallbackResponse()
	}

	native, err := adapter.AdaptResponse(ctx, post, sess)
	if err != nil {
		e.logger.Warn("adaptation failed, using fallback",
			"session_id", sess.ID, "channel", sess.Channel, "error", err)
		post = fallbackResponse()
		if native, err = adapter.AdaptResponse(ctx, post, sess); err != nil {
			// Channel cannot even carry the fallback; hand back the canonical form.
			e.logger.Error("fallback adaptation failed",
				"session_id", sess.ID, "channel", sess.Channel, "error", err)
			native = post
		}
	}

	return &Turn{Response: post, Native: native, Phase: sess.State.Phase}
}

func (e *Engine) agentRequest(sess *session.Session, msg *session.Message) *agent.Request {
	return &agent.Request{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Channel:   sess.Channel,
		Phase:     sess.State.Phase,
		Message:   msg,
		Context:   sess.State.Context,
		Prefs:     sess.Preferences,
	}
}

// responseFrom builds the canonical response for a collaborator reply.
func responseFrom(reply *agent.Reply) *session.Response {
	resp := &session.Response{
		Type:          reply.Type,
		Content:       reply.Content,
		RequiresInput: reply.RequiresInput,
		Suggestions:   reply.Suggestions,
	}
	if resp.Type == "" {
		resp.Type = session.TypeText
	}
	meta := resp.Meta()
	meta["confidence"] = reply.Confidence
	if len(reply.AgentsUsed) > 0 {
		meta["agents_used"] = reply.AgentsUsed
	}
	return resp
}

// fallbackResponse is the canonical safe answer when outbound translation
// fails. It keeps the conversation alive instead of surfacing an error to a
// child mid-story.
func fallbackResponse() *session.Response {
	return &session.Response{
		Type:          session.TypeText,
		Content:       "Hmm, I lost my place in the story for a moment. Could you tell me that again?",
		RequiresInput: true,
		Metadata:      map[string]any{"fallback": true},
	}
}
