// ABOUTME: Transient descriptors for channel switch and cross-channel sync
// ABOUTME: Never persisted as part of ConversationState

package session

import "time"

// SwitchContext carries caller-supplied hints through a channel switch or a
// sync-driven import. PreserveState selects merge semantics on import: the
// target adapter folds the inbound snapshot into its existing sub-state
// instead of replacing it.
type SwitchContext struct {
	Reason        string            `json:"reason,omitempty"`
	PreserveState bool              `json:"preserve_state,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SwitchResult reports the outcome of a channel switch. Warnings note
// capability degradation (e.g. images dropped on a voice-only target).
type SwitchResult struct {
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Warnings []string      `json:"warnings,omitempty"`
}

// SyncRequest asks for a subset of state to be propagated from one channel's
// active session to other channels holding sessions for the same user.
type SyncRequest struct {
	UserID         string   `json:"user_id"`
	SourceChannel  string   `json:"source_channel"`
	TargetChannels []string `json:"target_channels"`
	SyncType       string   `json:"sync_type,omitempty"`
}

// Conflict records a logical field changed on both the source and a target
// since the last synchronized baseline. Conflicts are data for the caller to
// resolve, not errors; the target's value is left untouched.
type Conflict struct {
	TargetChannel string `json:"target_channel"`
	Field         string `json:"field"`
	BaseValue     string `json:"base_value"`
	SourceValue   string `json:"source_value"`
	TargetValue   string `json:"target_value"`
}

// SyncResult reports applied updates and detected conflicts. A non-empty
// conflict list does not make the sync a failure.
type SyncResult struct {
	Success   bool       `json:"success"`
	Conflicts []Conflict `json:"conflicts"`
}
