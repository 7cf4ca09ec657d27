// ABOUTME: Service façade over the engine adding per-channel metrics and health
// ABOUTME: Every conversation operation is recorded; the sweeper ends idle sessions

package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/storyweave/storyweave-gateway/internal/channel"
	"github.com/storyweave/storyweave-gateway/internal/engine"
	"github.com/storyweave/storyweave-gateway/internal/session"
)

// Manager fronts the conversation engine for the transport layer. It owns
// per-channel usage metrics and the idle-session sweeper; conversation
// semantics stay in the engine.
type Manager struct {
	engine   *engine.Engine
	registry *channel.Registry
	logger   *slog.Logger

	mu      sync.RWMutex
	metrics map[string]*channelStats

	cron    *cron.Cron
	idleTTL time.Duration
}

type channelStats struct {
	requests     int64
	errors       int64
	totalLatency time.Duration
	lastUsed     time.Time
}

// New creates a manager over the given engine and registry. Pass nil logger
// for default.
func New(eng *engine.Engine, registry *channel.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		engine:   eng,
		registry: registry,
		logger:   logger.With("component", "manager"),
		metrics:  make(map[string]*channelStats),
	}
}

// StartConversation starts a session on the given channel.
func (m *Manager) StartConversation(ctx context.Context, userID, channelTag string, prefs session.Preferences) (*session.Session, error) {
	start := time.Now()
	sess, err := m.engine.StartConversation(ctx, userID, channelTag, prefs)
	m.record(channelTag, start, err)
	return sess, err
}

// ResumeConversation rehydrates a persisted session, optionally overriding
// its phase.
func (m *Manager) ResumeConversation(ctx context.Context, sessionID string, resumePhase session.Phase) (*session.Session, error) {
	start := time.Now()
	sess, err := m.engine.ResumeConversation(ctx, sessionID, resumePhase)
	tag := ""
	if sess != nil {
		tag = sess.Channel
	}
	m.record(tag, start, err)
	return sess, err
}

// ProcessMessage runs one conversation turn.
func (m *Manager) ProcessMessage(ctx context.Context, sessionID string, payload json.RawMessage) (*engine.Turn, error) {
	start := time.Now()
	turn, err := m.engine.ProcessMessage(ctx, sessionID, payload)
	m.record(m.channelOf(ctx, sessionID), start, err)
	return turn, err
}

// StreamResponse runs one turn as a chunk stream. The latency metric covers
// the whole stream, recorded when the final chunk has been delivered.
func (m *Manager) StreamResponse(ctx context.Context, sessionID string, payload json.RawMessage) (<-chan *session.Chunk, error) {
	start := time.Now()
	tag := m.channelOf(ctx, sessionID)
	chunks, err := m.engine.StreamResponse(ctx, sessionID, payload)
	if err != nil {
		m.record(tag, start, err)
		return nil, err
	}

	out := make(chan *session.Chunk)
	go func() {
		defer close(out)
		for chunk := range chunks {
			select {
			case out <- chunk:
			case <-ctx.Done():
				m.record(tag, start, ctx.Err())
				return
			}
		}
		m.record(tag, start, nil)
	}()
	return out, nil
}

// SwitchChannel moves a session to another channel. The switch is recorded
// against the target channel.
func (m *Manager) SwitchChannel(ctx context.Context, sessionID, targetTag string, switchCtx *session.SwitchContext) (*session.SwitchResult, error) {
	start := time.Now()
	result, err := m.engine.SwitchChannel(ctx, sessionID, targetTag, switchCtx)
	m.record(targetTag, start, err)
	return result, err
}

// Synchronize propagates state from the source channel to the targets.
func (m *Manager) Synchronize(ctx context.Context, req *session.SyncRequest) (*session.SyncResult, error) {
	start := time.Now()
	result, err := m.engine.Synchronize(ctx, req)
	m.record(req.SourceChannel, start, err)
	return result, err
}

// EndConversation closes a session. Idempotent.
func (m *Manager) EndConversation(ctx context.Context, sessionID, reason string) error {
	tag := m.channelOf(ctx, sessionID)
	start := time.Now()
	err := m.engine.EndConversation(ctx, sessionID, reason)
	m.record(tag, start, err)
	return err
}

// GetSession exposes a live session read-only.
func (m *Manager) GetSession(ctx context.Context, sessionID string) (*session.Session, error) {
	return m.engine.GetSession(ctx, sessionID)
}

// ChannelKnown reports whether a channel tag is registered.
func (m *Manager) ChannelKnown(tag string) bool {
	_, ok := m.registry.Get(tag)
	return ok
}

// StartSweeper schedules the idle-session sweep. The schedule is a cron
// expression; sessions without an interaction for idleTTL are ended.
func (m *Manager) StartSweeper(schedule string, idleTTL time.Duration) error {
	if m.cron != nil {
		return fmt.Errorf("sweeper already started")
	}
	m.idleTTL = idleTTL
	c := cron.New()
	if _, err := c.AddFunc(schedule, m.sweepIdle); err != nil {
		return fmt.Errorf("scheduling idle sweep: %w", err)
	}
	c.Start()
	m.cron = c
	m.logger.Info("idle sweeper started", "schedule", schedule, "idle_ttl", idleTTL)
	return nil
}

// Stop halts the sweeper. Safe to call when it never started.
func (m *Manager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
		m.cron = nil
	}
}

// sweepIdle ends every session idle beyond the TTL.
func (m *Manager) sweepIdle() {
	cutoff := time.Now().Add(-m.idleTTL)
	ids := m.engine.IdleSessions(cutoff)
	if len(ids) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range ids {
		if err := m.engine.EndConversation(ctx, id, "idle_timeout"); err != nil {
			m.logger.Warn("ending idle session failed", "session_id", id, "error", err)
		}
	}
	m.logger.Info("idle sessions swept", "count", len(ids))
}

// SweepIdleOnce runs one sweep pass immediately with the given TTL.
func (m *Manager) SweepIdleOnce(idleTTL time.Duration) {
	m.idleTTL = idleTTL
	m.sweepIdle()
}

// record updates the channel's usage counters. An empty tag (operation failed
// before the channel was known) is recorded under "unknown".
func (m *Manager) record(tag string, start time.Time, err error) {
	if tag == "" {
		tag = "unknown"
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats, ok := m.metrics[tag]
	if !ok {
		stats = &channelStats{}
		m.metrics[tag] = stats
	}
	stats.requests++
	stats.totalLatency += time.Since(start)
	stats.lastUsed = time.Now()
	if err != nil {
		stats.errors++
	}
}

// channelOf resolves a session's active channel for metric attribution.
func (m *Manager) channelOf(ctx context.Context, sessionID string) string {
	sess, err := m.engine.GetSession(ctx, sessionID)
	if err != nil {
		return ""
	}
	return sess.Channel
}
