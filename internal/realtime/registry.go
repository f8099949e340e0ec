package realtime

import "sync"

// Channel is a live outbound endpoint bound to one user identity.
// Enqueue must not block; it reports false when the event was dropped.
type Channel interface {
	Enqueue(Event) bool
}

// Registry maps a user identity to at most one live channel. It is the
// only concurrently mutated in-memory state in the process; every access
// goes through one mutex.
type Registry struct {
	mu       sync.Mutex
	channels map[string]Channel
}

// NewRegistry constructs an empty connection registry.
func NewRegistry() *Registry {
	return &Registry{channels: make(map[string]Channel)}
}

// Register binds a channel to a user identity. A newer channel for the
// same identity supersedes any prior entry; the registry never closes
// channels — the superseded channel's owner cleans it up.
func (r *Registry) Register(userID string, channel Channel) {
	if userID == "" || channel == nil {
		return
	}
	r.mu.Lock()
	r.channels[userID] = channel
	r.mu.Unlock()
}

// Lookup returns the current channel for a user. Absence is a normal
// outcome: the user is simply not connected.
func (r *Registry) Lookup(userID string) (Channel, bool) {
	r.mu.Lock()
	channel, ok := r.channels[userID]
	r.mu.Unlock()
	return channel, ok
}

// Unregister removes the entry only when the registered channel is
// exactly the given one, so a stale close racing a newer registration
// cannot clobber the live entry.
func (r *Registry) Unregister(userID string, channel Channel) {
	r.mu.Lock()
	if current, ok := r.channels[userID]; ok && current == channel {
		delete(r.channels, userID)
	}
	r.mu.Unlock()
}

// Count reports the number of live registrations.
func (r *Registry) Count() int {
	r.mu.Lock()
	count := len(r.channels)
	r.mu.Unlock()
	return count
}
