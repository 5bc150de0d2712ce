package mcp

import "sync"

// WatchRegistry maps workflow IDs to the MCP sessions watching them.
// Populated by the weave.watch tool.
type WatchRegistry struct {
	mu      sync.RWMutex
	watches map[string]map[string]bool // workflowID -> sessionID set
}

// NewWatchRegistry creates an empty WatchRegistry.
func NewWatchRegistry() *WatchRegistry {
	return &WatchRegistry{watches: make(map[string]map[string]bool)}
}

// Watch subscribes a session to a workflow's run notifications.
// Re-watching is a no-op.
func (r *WatchRegistry) Watch(workflowID, sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.watches[workflowID]
	if !ok {
		set = make(map[string]bool)
		r.watches[workflowID] = set
	}
	set[sessionID] = true
}

// SessionsFor returns the session IDs watching the given workflow.
func (r *WatchRegistry) SessionsFor(workflowID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.watches[workflowID]
	sessions := make([]string, 0, len(set))
	for sid := range set {
		sessions = append(sessions, sid)
	}
	return sessions
}

// Remove drops every subscription held by the given session. Called
// when a session disconnects or a notification bounces.
func (r *WatchRegistry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for wfID, set := range r.watches {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.watches, wfID)
		}
	}
}
