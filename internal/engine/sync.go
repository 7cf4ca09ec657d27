// ABOUTME: Cross-channel state synchronization with three-way change detection
// ABOUTME: Applies source-only changes; fields changed on both sides become conflicts

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/session"
	"github.com/storyweave/storyweave-gateway/internal/store"
)

// Logical fields compared during synchronization. Everything else is channel
// sub-state and is merged, not diffed.
var syncFieldNames = []string{"phase", "story", "character", "interactions"}

// Synchronize propagates conversation progress from the user's session on the
// source channel to their sessions on the target channels. For each target a
// persisted baseline (the last acknowledged snapshot) splits differences into
// three cases: unchanged, changed only on the source (applied), or changed on
// both sides (reported as a conflict and left untouched). Conflicts do not
// fail the sync.
func (e *Engine) Synchronize(ctx context.Context, req *session.SyncRequest) (*session.SyncResult, error) {
	if _, ok := e.registry.Get(req.SourceChannel); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, req.SourceChannel)
	}
	for _, tag := range req.TargetChannels {
		if _, ok := e.registry.Get(tag); !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, tag)
		}
	}

	sourceM, err := e.findUserSession(ctx, req.UserID, req.SourceChannel)
	if err != nil {
		return nil, fmt.Errorf("source session on %s: %w", req.SourceChannel, err)
	}

	// Snapshot the source under its lock, then work targets one at a time.
	sourceM.mu.Lock()
	sourceFields := syncFields(sourceM.sess)
	sourceAdapter, _ := e.registry.Get(req.SourceChannel)
	sourceState, err := sourceAdapter.ExportState(sourceM.sess)
	sourceM.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("exporting %s state: %w", req.SourceChannel, err)
	}

	result := &session.SyncResult{Success: true, Conflicts: []session.Conflict{}}

	for _, targetTag := range req.TargetChannels {
		if targetTag == req.SourceChannel {
			continue
		}
		targetM, err := e.findUserSession(ctx, req.UserID, targetTag)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				e.logger.Debug("no session on target channel, skipping",
					"user_id", req.UserID, "channel", targetTag)
				continue
			}
			return nil, fmt.Errorf("target session on %s: %w", targetTag, err)
		}
		conflicts, err := e.syncTarget(ctx, req.UserID, targetTag, targetM, sourceFields, sourceState)
		if err != nil {
			return nil, err
		}
		result.Conflicts = append(result.Conflicts, conflicts...)
	}

	return result, nil
}

// syncTarget applies the three-way diff to a single target session.
func (e *Engine) syncTarget(ctx context.Context, userID, targetTag string, targetM *managed, sourceFields map[string]string, sourceState []byte) ([]session.Conflict, error) {
	targetM.mu.Lock()
	defer targetM.mu.Unlock()

	targetFields := syncFields(targetM.sess)

	base, err := e.store.GetSyncBaseline(ctx, userID, targetTag)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("loading sync baseline: %w", err)
		}
		// First sync against this target: trust its current values as the
		// baseline so source changes apply cleanly.
		base = targetFields
	}

	var conflicts []session.Conflict
	newBase := make(map[string]string, len(syncFieldNames))
	applied := false

	for _, field := range syncFieldNames {
		sourceVal := sourceFields[field]
		targetVal := targetFields[field]
		baseVal := base[field]
		newBase[field] = baseVal

		switch {
		case sourceVal == baseVal:
			// Source unchanged; nothing to propagate.
		case targetVal == baseVal || targetVal == sourceVal:
			// Only the source moved (or both arrived at the same value).
			if err := applySyncField(targetM.sess, field, sourceVal); err != nil {
				e.logger.Warn("skipping unapplicable sync field",
					"field", field, "value", sourceVal, "error", err)
				continue
			}
			newBase[field] = sourceVal
			applied = true
		default:
			// Both sides diverged from the baseline: the caller resolves.
			conflicts = append(conflicts, session.Conflict{
				TargetChannel: targetTag,
				Field:         field,
				BaseValue:     baseVal,
				SourceValue:   sourceVal,
				TargetValue:   targetVal,
			})
		}
	}

	if applied {
		// Fold the source's channel sub-state into the target's so media
		// references and profile hints travel with the logical fields.
		if adapter, ok := e.registry.Get(targetTag); ok {
			warnings, err := adapter.ImportState(targetM.sess, sourceState,
				&session.SwitchContext{Reason: "sync", PreserveState: true})
			if err != nil {
				e.logger.Warn("merging source state into target failed",
					"user_id", userID, "channel", targetTag, "error", err)
			}
			for _, w := range warnings {
				e.logger.Info("sync degradation", "channel", targetTag, "warning", w)
			}
		}
		targetM.sess.UpdatedAt = time.Now().UTC()
		e.persist(targetM.sess)
	}

	if err := e.store.SaveSyncBaseline(ctx, userID, targetTag, newBase); err != nil {
		return nil, fmt.Errorf("saving sync baseline: %w", err)
	}
	return conflicts, nil
}

// findUserSession locates the user's live session on a channel, checking
// memory first and falling back to persisted active sessions.
func (e *Engine) findUserSession(ctx context.Context, userID, tag string) (*managed, error) {
	e.mu.RLock()
	for _, m := range e.sessions {
		if m.sess.UserID == userID && m.sess.Channel == tag && m.sess.Active {
			e.mu.RUnlock()
			return m, nil
		}
	}
	e.mu.RUnlock()

	recs, err := e.store.ListUserSessions(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	for _, rec := range recs {
		if rec.Channel == tag {
			return e.lookup(ctx, rec.SessionID)
		}
	}
	return nil, fmt.Errorf("%w: user %s on %s", ErrSessionNotFound, userID, tag)
}

// syncFields extracts the logical fields compared during synchronization.
func syncFields(sess *session.Session) map[string]string {
	return map[string]string{
		"phase":        string(sess.State.Phase),
		"story":        sess.State.Context.CurrentStoryID,
		"character":    sess.State.Context.CurrentCharacterID,
		"interactions": strconv.Itoa(sess.State.Context.TotalInteractions),
	}
}

func applySyncField(sess *session.Session, field, value string) error {
	switch field {
	case "phase":
		p := session.Phase(value)
		if !p.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidPhaseTransition, value)
		}
		sess.State.Phase = p
	case "story":
		sess.State.Context.CurrentStoryID = value
	case "character":
		sess.State.Context.CurrentCharacterID = value
	case "interactions":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("parsing interaction count: %w", err)
		}
		sess.State.Context.TotalInteractions = n
	default:
		return fmt.Errorf("unknown sync field %q", field)
	}
	return nil
}
