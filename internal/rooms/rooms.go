package rooms

import "sync"

type set map[string]struct{}

// Tracker maps conversation rooms to the connections subscribed to them.
// Room membership is connection-scoped and says nothing about persisted
// conversation membership.
type Tracker struct {
	// convID -> connIDs
	rooms map[string]set
	// connID -> convIDs
	joined map[string]set

	mu sync.RWMutex
}

func NewTracker() *Tracker {
	return &Tracker{
		rooms:  make(map[string]set),
		joined: make(map[string]set),
	}
}

// Join adds connID to the room. Joining twice is a no-op.
func (t *Tracker) Join(connID, convID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rooms[convID] == nil {
		t.rooms[convID] = make(set)
	}
	t.rooms[convID][connID] = struct{}{}

	if t.joined[connID] == nil {
		t.joined[connID] = make(set)
	}
	t.joined[connID][convID] = struct{}{}
}

// Leave removes connID from the room. Leaving a room never joined is a no-op.
func (t *Tracker) Leave(connID, convID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leave(connID, convID)
}

func (t *Tracker) leave(connID, convID string) {
	if conns, ok := t.rooms[convID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(t.rooms, convID)
		}
	}
	if convs, ok := t.joined[connID]; ok {
		delete(convs, convID)
		if len(convs) == 0 {
			delete(t.joined, connID)
		}
	}
}

// LeaveAll drops every room subscription of connID.
func (t *Tracker) LeaveAll(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for convID := range t.joined[connID] {
		t.leave(connID, convID)
	}
}

// Members returns a snapshot of the connections joined to convID.
func (t *Tracker) Members(convID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := make([]string, 0, len(t.rooms[convID]))
	for connID := range t.rooms[convID] {
		conns = append(conns, connID)
	}
	return conns
}

func (t *Tracker) IsJoined(connID, convID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.rooms[convID][connID]
	return ok
}

// Rooms returns the conversations connID has joined.
func (t *Tracker) Rooms(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	convs := make([]string, 0, len(t.joined[connID]))
	for convID := range t.joined[connID] {
		convs = append(convs, convID)
	}
	return convs
}

// Len returns the number of non-empty rooms.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rooms)
}
