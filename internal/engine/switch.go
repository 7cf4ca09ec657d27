// ABOUTME: Channel switch: transfer session binding between adapters atomically
// ABOUTME: Export, rebind, import; any import failure rolls back the binding

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// SwitchChannel moves a live session to a different channel. The source
// adapter's state is exported and offered to the target adapter; shared
// conversation state (phase, story, character, interaction count) rides on
// the session itself and is untouched. Import failure restores the previous
// binding so the session is never left between channels.
func (e *Engine) SwitchChannel(ctx context.Context, sessionID, targetTag string, switchCtx *session.SwitchContext) (*session.SwitchResult, error) {
	start := time.Now()

	target, ok := e.registry.Get(targetTag)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, targetTag)
	}

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
	if sess.Channel == targetTag {
		return &session.SwitchResult{Success: true, Duration: time.Since(start)}, nil
	}

	source, ok := e.registry.Get(sess.Channel)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, sess.Channel)
	}
	sourceTag := sess.Channel

	exported, err := source.ExportState(sess)
	if err != nil {
		return nil, fmt.Errorf("exporting %s state: %w", sourceTag, err)
	}

	if switchCtx == nil {
		switchCtx = &session.SwitchContext{Reason: "channel_switch"}
	}

	// Rebind, then let the target interpret the exported snapshot. The old
	// binding is kept aside for rollback.
	prevCaps := sess.Capabilities
	sess.Channel = targetTag
	sess.Capabilities = target.Capabilities()

	if err := target.InitializeSession(ctx, sess); err != nil {
		sess.Channel = sourceTag
		sess.Capabilities = prevCaps
		return nil, fmt.Errorf("%w: initializing %s: %v", ErrSwitchRollback, targetTag, err)
	}

	warnings, err := target.ImportState(sess, exported, switchCtx)
	if err != nil {
		sess.Channel = sourceTag
		sess.Capabilities = prevCaps
		sess.ClearChannelState(targetTag)
		return nil, fmt.Errorf("%w: importing into %s: %v", ErrSwitchRollback, targetTag, err)
	}

	// Point of no return: the target owns the session now.
	if err := source.CleanupSession(ctx, sess); err != nil {
		e.logger.Warn("source cleanup failed after switch",
			"session_id", sessionID, "channel", sourceTag, "error", err)
	}

	sess.UpdatedAt = time.Now().UTC()
	e.persist(sess)

	e.mu.Lock()
	if e.counts[sourceTag] > 0 {
		e.counts[sourceTag]--
	}
	e.counts[targetTag]++
	e.mu.Unlock()

	e.logger.Info("channel switched",
		"session_id", sessionID,
		"from", sourceTag,
		"to", targetTag,
		"warnings", len(warnings),
		"duration", time.Since(start))

	return &session.SwitchResult{
		Success:  true,
		Duration: time.Since(start),
		Warnings: warnings,
	}, nil
}
