// ABOUTME: Thread-safe registry mapping channel tags to their adapters
// ABOUTME: The engine resolves sessions' active adapters through this registry

package channel

import (
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/storyweave/storyweave-gateway/internal/session"
)

// ErrAlreadyRegistered indicates an adapter with the same tag is registered.
var ErrAlreadyRegistered = errors.New("channel already registered")

// Registry holds the static set of channel adapters, keyed by tag.
// Registration happens at startup; lookups are concurrent.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	logger   *slog.Logger
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		adapters: make(map[string]Adapter),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds an adapter under its own tag.
// Returns ErrAlreadyRegistered if the tag is taken.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tag := a.Name()
	if _, exists := r.adapters[tag]; exists {
		return ErrAlreadyRegistered
	}

	r.adapters[tag] = a
	r.logger.Info("channel registered",
		"channel", tag,
		"streaming", a.Capabilities().SupportsStreaming,
		"total_channels", len(r.adapters),
	)
	return nil
}

// Get retrieves the adapter for a channel tag.
func (r *Registry) Get(tag string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[tag]
	return a, ok
}

// Capabilities returns the registered capability set for a channel tag.
func (r *Registry) Capabilities(tag string) (session.Capabilities, bool) {
	a, ok := r.Get(tag)
	if !ok {
		return session.Capabilities{}, false
	}
	return a.Capabilities(), true
}

// Tags returns all registered channel tags in sorted order.
func (r *Registry) Tags() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tags := make([]string, 0, len(r.adapters))
	for tag := range r.adapters {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	return tags
}
