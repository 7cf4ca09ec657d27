// ABOUTME: Conversation engine owning session lifecycle and single-writer access
// ABOUTME: Persists before acting; adapters and collaborators hang off this core

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/agent"
	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/session"
	"github.com/storyweave/storyweave-gateway/internal/store"
)

// persistTimeout bounds background persistence writes so a slow disk cannot
// stall a conversation turn indefinitely.
const persistTimeout = 5 * time.Second

// managed pairs a session with its write lock. All state mutation for one
// session happens under this mutex, which serializes concurrent messages.
type managed struct {
	mu   sync.Mutex
	sess *session.Session
}

// Engine owns every active conversation session and mediates between channel
// adapters, the story collaborator, and persistence.
type Engine struct {
	registry  *channel.Registry
	responder agent.Responder
	store     store.Store
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*managed
	counts   map[string]int
}

// New creates an engine. Pass nil logger for default.
func New(registry *channel.Registry, responder agent.Responder, st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		registry:  registry,
		responder: responder,
		store:     st,
		logger:    logger.With("component", "engine"),
		sessions:  make(map[string]*managed),
		counts:    make(map[string]int),
	}
}

// StartConversation allocates a session on the given channel, initializes the
// channel's sub-state, and persists the record before returning it.
func (e *Engine) StartConversation(ctx context.Context, userID, channelTag string, prefs session.Preferences) (*session.Session, error) {
	adapter, ok := e.registry.Get(channelTag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelTag)
	}

	sess := session.New(userID, channelTag, adapter.Capabilities())
	sess.Preferences = prefs

	if err := adapter.InitializeSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("initializing %s session: %w", channelTag, err)
	}

	// Record first, then act: the session exists durably before any turn runs.
	if err := e.store.SaveSession(ctx, toRecord(sess)); err != nil {
		return nil, fmt.Errorf("persisting new session: %w", err)
	}

	e.mu.Lock()
	e.sessions[sess.ID] = &managed{sess: sess}
	e.counts[channelTag]++
	e.mu.Unlock()

	e.logger.Info("conversation started",
		"session_id", sess.ID,
		"user_id", userID,
		"channel", channelTag)
	return sess, nil
}

// ResumeConversation rehydrates a known session instead of allocating a new
// one: phase, context, and channel sub-states come back from the persisted
// record. A non-empty resumePhase overrides the persisted phase, letting a
// client restart from a checkpoint.
func (e *Engine) ResumeConversation(ctx context.Context, sessionID string, resumePhase session.Phase) (*session.Session, error) {
	m, err := e.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if resumePhase != "" {
		if !resumePhase.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPhaseTransition, resumePhase)
		}
		m.sess.State.Phase = resumePhase
		m.sess.UpdatedAt = time.Now().UTC()
		e.persist(m.sess)
	}

	e.logger.Info("conversation resumed",
		"session_id", sessionID,
		"channel", m.sess.Channel,
		"phase", m.sess.State.Phase)
	return m.sess, nil
}

// EndConversation closes a session: channel resources are released, the
// record is marked inactive, and the in-memory entry is dropped. Ending an
// already-ended session is a no-op.
func (e *Engine) EndConversation(ctx context.Context, sessionID, reason string) error {
	m, err := e.lookup(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			// Already ended and evicted, or never existed with a closed record.
			if rec, gerr := e.store.GetSession(ctx, sessionID); gerr == nil && !rec.Active {
				return nil
			}
		}
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sess.Active {
		return nil
	}

	if adapter, ok := e.registry.Get(m.sess.Channel); ok {
		if err := adapter.CleanupSession(ctx, m.sess); err != nil {
			// Cleanup failures never block the end; resources may be gone already.
			e.logger.Warn("channel cleanup failed",
				"session_id", sessionID,
				"channel", m.sess.Channel,
				"error", err)
		}
	}

	m.sess.Active = false
	m.sess.UpdatedAt = time.Now().UTC()
	rec := toRecord(m.sess)
	rec.EndedReason = reason

	if err := e.store.SaveSession(ctx, rec); err != nil {
		e.logger.Error("persisting ended session failed", "session_id", sessionID, "error", err)
	}

	e.mu.Lock()
	delete(e.sessions, sessionID)
	if e.counts[m.sess.Channel] > 0 {
		e.counts[m.sess.Channel]--
	}
	e.mu.Unlock()

	e.logger.Info("conversation ended", "session_id", sessionID, "reason", reason)
	return nil
}

// GetSession returns the live session for inspection. Callers must treat it
// as read-only.
func (e *Engine) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	m, err := e.lookup(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return m.sess, nil
}

// ActiveSessions returns the number of live sessions.
func (e *Engine) ActiveSessions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.sessions)
}

// ActiveByChannel returns live session counts keyed by channel tag.
func (e *Engine) ActiveByChannel() map[string]int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]int, len(e.counts))
	for tag, n := range e.counts {
		out[tag] = n
	}
	return out
}

// IdleSessions returns IDs of live sessions with no interaction since the
// cutoff. The sweeper uses this to end abandoned conversations.
func (e *Engine) IdleSessions(cutoff time.Time) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var ids []string
	for id, m := range e.sessions {
		last := m.sess.State.Context.LastInteraction
		if last.IsZero() {
			last = m.sess.CreatedAt
		}
		if last.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// lookup finds the managed entry, rehydrating from the store when the session
// is not in memory (process restart). Ended sessions resolve to not-found.
func (e *Engine) lookup(ctx context.Context, sessionID string) (*managed, error) {
	e.mu.RLock()
	m, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if ok {
		return m, nil
	}

	rec, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}
	if !rec.Active {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	caps, ok := e.registry.Capabilities(rec.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, rec.Channel)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	// Another request may have rehydrated in the window; keep theirs.
	if m, ok := e.sessions[sessionID]; ok {
		return m, nil
	}
	m = &managed{sess: fromRecord(rec, caps)}
	e.sessions[sessionID] = m
	e.counts[rec.Channel]++
	e.logger.Info("session rehydrated", "session_id", sessionID, "channel", rec.Channel)
	return m, nil
}

// persist writes the session on a detached context so the caller's deadline
// or cancellation cannot abandon a half-written record.
func (e *Engine) persist(sess *session.Session) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.SaveSession(ctx, toRecord(sess)); err != nil {
		e.logger.Error("persisting session failed", "session_id", sess.ID, "error", err)
	}
}

// toRecord converts a live session to its persisted shape.
func toRecord(sess *session.Session) *store.SessionRecord {
	states := make(map[string][]byte, len(sess.State.ChannelStates))
	for tag, raw := range sess.State.ChannelStates {
		states[tag] = raw
	}
	return &store.SessionRecord{
		SessionID:          sess.ID,
		UserID:             sess.UserID,
		Channel:            sess.Channel,
		Phase:              sess.State.Phase,
		Context:            sess.State.Context,
		ChannelStates:      states,
		Preferences:        sess.Preferences,
		CurrentStoryID:     sess.State.Context.CurrentStoryID,
		CurrentCharacterID: sess.State.Context.CurrentCharacterID,
		Active:             sess.Active,
		CreatedAt:          sess.CreatedAt,
		UpdatedAt:          sess.UpdatedAt,
	}
}

// fromRecord reconstructs a live session from its persisted shape.
func fromRecord(rec *store.SessionRecord, caps session.Capabilities) *session.Session {
	states := make(map[string]json.RawMessage, len(rec.ChannelStates))
	for tag, raw := range rec.ChannelStates {
		states[tag] = raw
	}
	return &session.Session{
		ID:           rec.SessionID,
		UserID:       rec.UserID,
		Channel:      rec.Channel,
		Capabilities: caps,
		State: &session.State{
			Phase:         rec.Phase,
			Context:       rec.Context,
			ChannelStates: states,
		},
		Preferences: rec.Preferences,
		Active:      rec.Active,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}
}
