// Package presence tracks which users currently hold a live connection.
package presence

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handle is an opaque reference to one live transport session. Handles must
// be comparable; pointer types are the usual choice.
type Handle interface {
	SessionID() uuid.UUID
}

// Entry is the presence record of one user.
type Entry struct {
	UserID      uuid.UUID
	Handle      Handle
	ConnectedAt time.Time
}

// Registry maps users to their current handle. A user has at most one active
// handle; registering again replaces the previous one.
type Registry struct {
	mu       sync.RWMutex
	byUser   map[uuid.UUID]Entry
	byHandle map[Handle]uuid.UUID
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		byUser:   make(map[uuid.UUID]Entry),
		byHandle: make(map[Handle]uuid.UUID),
		now:      time.Now,
	}
}

// Register makes h the current handle of userID. It returns the handle it
// replaced, if any.
func (r *Registry) Register(userID uuid.UUID, h Handle) (replaced Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byUser[userID]; ok {
		delete(r.byHandle, prev.Handle)
		if prev.Handle != h {
			replaced = prev.Handle
		}
	}
	// h may have been current for another user before
	if other, ok := r.byHandle[h]; ok && other != userID {
		delete(r.byUser, other)
	}

	r.byUser[userID] = Entry{UserID: userID, Handle: h, ConnectedAt: r.now()}
	r.byHandle[h] = userID
	return replaced
}

// Lookup returns the current handle of userID. A miss means the user is not
// reachable right now.
func (r *Registry) Lookup(userID uuid.UUID) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	if !ok {
		return nil, false
	}
	return e.Handle, true
}

// Entry returns the full presence record of userID.
func (r *Registry) Entry(userID uuid.UUID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.byUser[userID]
	return e, ok
}

// UnregisterByHandle removes the entry owned by h. A handle that was already
// superseded by a newer registration is ignored so it cannot evict the live
// session. It returns the user that was removed.
func (r *Registry) UnregisterByHandle(h Handle) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byHandle[h]
	if !ok {
		return uuid.Nil, false
	}
	delete(r.byHandle, h)
	delete(r.byUser, userID)
	return userID, true
}

// Len returns the number of reachable users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
