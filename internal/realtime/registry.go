package realtime

import (
	"sort"
	"sync"
)

// Registry maps users to the ids of their live connections. It is owned by
// a Gateway and lives only as long as the process.
type Registry struct {
	mu     sync.RWMutex
	byUser map[int64]map[string]struct{}
	owner  map[string]int64
}

func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[int64]map[string]struct{}),
		owner:  make(map[string]int64),
	}
}

// Register adds connID to the sessions of userID. Registering an id again
// moves it to the new user.
func (r *Registry) Register(userID int64, connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.owner[connID]; ok {
		r.removeLocked(prev, connID)
	}
	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[string]struct{})
		r.byUser[userID] = set
	}
	set[connID] = struct{}{}
	r.owner[connID] = userID
}

// Unregister removes connID from whichever user holds it and reports that
// user. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.owner[connID]
	if !ok {
		return 0, false
	}
	r.removeLocked(userID, connID)
	return userID, true
}

func (r *Registry) removeLocked(userID int64, connID string) {
	delete(r.owner, connID)
	if set, ok := r.byUser[userID]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.byUser, userID)
		}
	}
}

// SessionsFor returns a sorted copy of the connection ids of userID. The
// result is empty, never nil, for users without sessions.
func (r *Registry) SessionsFor(userID int64) []string {
	r.mu.RLock()
	set := r.byUser[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

// Users returns the number of users with at least one live connection.
func (r *Registry) Users() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
