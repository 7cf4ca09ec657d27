// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides session and sync-baseline persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			session_id          TEXT PRIMARY KEY,
			user_id             TEXT NOT NULL,
			channel             TEXT NOT NULL,
			phase               TEXT NOT NULL,
			context_json        TEXT NOT NULL,
			channel_states_json TEXT NOT NULL,
			preferences_json    TEXT NOT NULL,
			story_id            TEXT,
			character_id        TEXT,
			active              INTEGER NOT NULL DEFAULT 1,
			ended_reason        TEXT,
			created_at          DATETIME NOT NULL,
			updated_at          DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_user
			ON sessions(user_id);

		CREATE INDEX IF NOT EXISTS idx_sessions_user_active
			ON sessions(user_id, active);

		CREATE TABLE IF NOT EXISTS sync_baselines (
			user_id     TEXT NOT NULL,
			channel     TEXT NOT NULL,
			fields_json TEXT NOT NULL,
			updated_at  DATETIME NOT NULL,
			PRIMARY KEY (user_id, channel)
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// SaveSession inserts or replaces a session record
func (s *SQLiteStore) SaveSession(ctx context.Context, rec *SessionRecord) error {
	contextJSON, err := json.Marshal(rec.Context)
	if err != nil {
		return fmt.Errorf("marshaling session context: %w", err)
	}
	states := rec.ChannelStates
	if states == nil {
		states = map[string][]byte{}
	}
	statesJSON, err := json.Marshal(states)
	if err != nil {
		return fmt.Errorf("marshaling channel states: %w", err)
	}
	prefsJSON, err := json.Marshal(rec.Preferences)
	if err != nil {
		return fmt.Errorf("marshaling preferences: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (
			session_id, user_id, channel, phase,
			context_json, channel_states_json, preferences_json,
			story_id, character_id, active, ended_reason,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			user_id = excluded.user_id,
			channel = excluded.channel,
			phase = excluded.phase,
			context_json = excluded.context_json,
			channel_states_json = excluded.channel_states_json,
			preferences_json = excluded.preferences_json,
			story_id = excluded.story_id,
			character_id = excluded.character_id,
			active = excluded.active,
			ended_reason = excluded.ended_reason,
			updated_at = excluded.updated_at`,
		rec.SessionID, rec.UserID, rec.Channel, string(rec.Phase),
		string(contextJSON), string(statesJSON), string(prefsJSON),
		rec.CurrentStoryID, rec.CurrentCharacterID, boolToInt(rec.Active), rec.EndedReason,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*SessionRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, channel, phase,
		       context_json, channel_states_json, preferences_json,
		       story_id, character_id, active, ended_reason,
		       created_at, updated_at
		FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// ListUserSessions returns a user's sessions, newest first
func (s *SQLiteStore) ListUserSessions(ctx context.Context, userID string, activeOnly bool) ([]*SessionRecord, error) {
	query := `
		SELECT session_id, user_id, channel, phase,
		       context_json, channel_states_json, preferences_json,
		       story_id, character_id, active, ended_reason,
		       created_at, updated_at
		FROM sessions WHERE user_id = ?`
	args := []any{userID}
	if activeOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var recs []*SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}
	return recs, nil
}

// SaveSyncBaseline stores the acknowledged field snapshot for a (user, channel)
func (s *SQLiteStore) SaveSyncBaseline(ctx context.Context, userID, channel string, fields map[string]string) error {
	if fields == nil {
		fields = map[string]string{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling baseline fields: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sync_baselines (user_id, channel, fields_json, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, channel) DO UPDATE SET
			fields_json = excluded.fields_json,
			updated_at = excluded.updated_at`,
		userID, channel, string(fieldsJSON), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("saving sync baseline: %w", err)
	}
	return nil
}

// GetSyncBaseline retrieves the acknowledged field snapshot, ErrNotFound when absent
func (s *SQLiteStore) GetSyncBaseline(ctx context.Context, userID, channel string) (map[string]string, error) {
	var fieldsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT fields_json FROM sync_baselines WHERE user_id = ? AND channel = ?`,
		userID, channel).Scan(&fieldsJSON)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting sync baseline: %w", err)
	}
	fields := map[string]string{}
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling baseline fields: %w", err)
	}
	return fields, nil
}

// Close releases the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*SessionRecord, error) {
	var (
		rec         SessionRecord
		phase       string
		contextJSON string
		statesJSON  string
		prefsJSON   string
		active      int
		storyID     sql.NullString
		charID      sql.NullString
		endedReason sql.NullString
	)
	err := row.Scan(&rec.SessionID, &rec.UserID, &rec.Channel, &phase,
		&contextJSON, &statesJSON, &prefsJSON,
		&storyID, &charID, &active, &endedReason,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	rec.Phase = session.Phase(phase)
	rec.Active = active != 0
	rec.CurrentStoryID = storyID.String
	rec.CurrentCharacterID = charID.String
	rec.EndedReason = endedReason.String

	if err := json.Unmarshal([]byte(contextJSON), &rec.Context); err != nil {
		return nil, fmt.Errorf("unmarshaling session context: %w", err)
	}
	if err := json.Unmarshal([]byte(statesJSON), &rec.ChannelStates); err != nil {
		return nil, fmt.Errorf("unmarshaling channel states: %w", err)
	}
	if err := json.Unmarshal([]byte(prefsJSON), &rec.Preferences); err != nil {
		return nil, fmt.Errorf("unmarshaling preferences: %w", err)
	}
	return &rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
