// ABOUTME: Store interface and data types for storyweave-gateway persistence
// ABOUTME: Defines SessionRecord, sync baselines, and the Store interface

package store

import (
	"context"
	"errors"
	"time"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// SessionRecord is the persisted shape of a conversation session. Channel
// sub-states are stored opaquely so adapters can evolve their formats without
// schema changes.
type SessionRecord struct {
	SessionID     string
	UserID        string
	Channel       string
	Phase         session.Phase
	Context       session.Context
	ChannelStates map[string][]byte
	Preferences   session.Preferences

	CurrentStoryID     string
	CurrentCharacterID string

	Active      bool
	EndedReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store defines the interface for session persistence
type Store interface {
	// SaveSession inserts or replaces a session record
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*SessionRecord, error)
	ListUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*SessionRecord, error)

	// Sync baselines: the last state snapshot acknowledged per (user, channel),
	// used for three-way change detection during synchronization
	SaveSyncBaseline(ctx context.Context, userID, channel string, fields map[string]string) error
	GetSyncBaseline(ctx context.Context, userID, channel string) (map[string]string, error)

	// Close releases any resources held by the store
	Close() error
}
