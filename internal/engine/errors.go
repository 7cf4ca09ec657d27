// ABOUTME: Sentinel errors for conversation engine operations
// ABOUTME: Callers match these with errors.Is to map onto API error codes

package engine

import "errors"

var (
	// ErrUnknownChannel indicates a channel tag with no registered adapter.
	ErrUnknownChannel = errors.New("unknown channel")

	// ErrSessionNotFound indicates the session does not exist or has ended.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvalidPhaseTransition indicates a collaborator proposed a phase tag
	// the state machine does not know. The session is left unchanged.
	ErrInvalidPhaseTransition = errors.New("invalid phase transition")

	// ErrStreamingUnsupported indicates the session's active channel cannot
	// deliver incremental responses.
	ErrStreamingUnsupported = errors.New("streaming not supported on channel")

	// ErrSwitchRollback indicates a channel switch failed and the session was
	// restored to its previous channel binding.
	ErrSwitchRollback = errors.New("channel switch rolled back")
)
