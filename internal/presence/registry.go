package presence

import (
	"sync"
	"time"

	"donorchat/internal/models"
)

// RegisterResult reports what a registration displaced.
type RegisterResult struct {
	Record models.PresenceRecord
	// Superseded is the connection that previously owned the user, if any.
	// It is not closed, only orphaned from presence.
	Superseded string
	// Released is the record of another user this connection was bound to before.
	Released *models.PresenceRecord
}

// Registry maps user identities to their single authoritative connection
// and presence record.
type Registry struct {
	// userID -> record (record.ConnectionID is the authoritative connection)
	users map[string]models.PresenceRecord
	// connID -> userID
	conns map[string]string

	now func() time.Time
	mu  sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]models.PresenceRecord),
		conns: make(map[string]string),
		now:   time.Now,
	}
}

// Register binds userID to connID, last writer wins.
func (r *Registry) Register(connID, userID string, profile models.Profile) RegisterResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	var res RegisterResult

	if prevUser, ok := r.conns[connID]; ok && prevUser != userID {
		if rec, ok := r.users[prevUser]; ok && rec.ConnectionID == connID {
			delete(r.users, prevUser)
			res.Released = &rec
		}
	}

	if prev, ok := r.users[userID]; ok && prev.ConnectionID != connID {
		delete(r.conns, prev.ConnectionID)
		res.Superseded = prev.ConnectionID
	}

	rec := models.PresenceRecord{
		UserID:       userID,
		FullName:     profile.FullName,
		Email:        profile.Email,
		Image:        profile.Image,
		ConnectionID: connID,
		LastSeen:     r.now(),
	}
	r.users[userID] = rec
	r.conns[connID] = userID

	res.Record = rec
	return res
}

// Heartbeat refreshes the last-seen timestamp of a registered user.
func (r *Registry) Heartbeat(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.users[userID]
	if !ok {
		return false
	}
	rec.LastSeen = r.now()
	r.users[userID] = rec
	return true
}

// Disconnect removes the user currently mapped to connID.
// A connection that was superseded or never registered is ignored.
func (r *Registry) Disconnect(connID string) (models.PresenceRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.conns[connID]
	if !ok {
		return models.PresenceRecord{}, false
	}
	delete(r.conns, connID)

	rec, ok := r.users[userID]
	if !ok || rec.ConnectionID != connID {
		return models.PresenceRecord{}, false
	}
	delete(r.users, userID)
	return rec, true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.users[userID]
	return ok
}

func (r *Registry) Lookup(userID string) (models.PresenceRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	return rec, ok
}

// ConnectionOf returns the authoritative connection of userID.
func (r *Registry) ConnectionOf(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.users[userID]
	if !ok {
		return "", false
	}
	return rec.ConnectionID, true
}

// UserOf returns the user whose authoritative connection is connID.
func (r *Registry) UserOf(connID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.conns[connID]
	return userID, ok
}

// ListOnline returns a snapshot of all presence records in no particular order.
func (r *Registry) ListOnline() []models.PresenceRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]models.PresenceRecord, 0, len(r.users))
	for _, rec := range r.users {
		list = append(list, rec)
	}
	return list
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users)
}
