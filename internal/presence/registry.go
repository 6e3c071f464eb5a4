package presence

import (
	"sort"
	"sync"

	"pairchat/internal/domain"
)

// Event types pushed to clients.
const (
	EventNewMessage  = "newMessage"
	EventMessageSent = "message_sent"
	EventMarkedRead  = "marked_read"
	EventError       = "error"
)

// Event is a server-initiated notification pushed to a live connection.
type Event struct {
	Type           string          `json:"type"`
	Message        *domain.Message `json:"message,omitempty"`
	ConversationID int64           `json:"conversation_id,omitempty"`
	Detail         string          `json:"detail,omitempty"`
}

// Handle is a live connection owned by the transport layer. Push must not
// block; implementations queue the event and fail fast when they cannot.
type Handle interface {
	ID() string
	Push(ev Event) error
}

// Registry maps a user ID to the most recently registered connection for
// that user. It never closes handles; their owners tear them down.
type Registry struct {
	mu      sync.RWMutex
	entries map[int64]Handle
}

func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[int64]Handle),
	}
}

// Register stores h for userID, replacing any previous handle.
func (r *Registry) Register(userID int64, h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[userID] = h
}

// Unregister removes the entry for userID only if it is still h. A stale
// disconnect from an already-replaced handle is a no-op.
func (r *Registry) Unregister(userID int64, h Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[userID]
	if !ok || cur.ID() != h.ID() {
		return false
	}
	delete(r.entries, userID)
	return true
}

// Lookup returns the current handle for userID, if any.
func (r *Registry) Lookup(userID int64) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h, ok := r.entries[userID]
	return h, ok
}

// OnlineUserIDs returns a sorted snapshot of users with a live connection.
func (r *Registry) OnlineUserIDs() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close drops every entry. Used at process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	r.entries = make(map[int64]Handle)
	r.mu.Unlock()
}
