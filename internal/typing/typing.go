// Package typing keeps best-effort typing indicators per conversation.
// Entries never expire on their own; they are cleared by an explicit stop or
// when the typing user disconnects.
package typing

import (
	"sort"
	"sync"
)

// Typist is a user currently typing in a conversation.
type Typist struct {
	UserID string `json:"userId"`
	Name   string `json:"userName"`
}

type Store struct {
	// convID -> userID -> display name
	sets map[string]map[string]string

	mu sync.RWMutex
}

func NewStore() *Store {
	return &Store{sets: make(map[string]map[string]string)}
}

// Start marks userID as typing in convID. It reports whether the user was not
// typing before.
func (s *Store) Start(convID, userID, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	users, ok := s.sets[convID]
	if !ok {
		users = make(map[string]string)
		s.sets[convID] = users
	}
	_, existed := users[userID]
	users[userID] = name
	return !existed
}

// Stop clears the typing flag. It reports whether the user was typing.
func (s *Store) Stop(convID, userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stop(convID, userID)
}

func (s *Store) stop(convID, userID string) bool {
	users, ok := s.sets[convID]
	if !ok {
		return false
	}
	if _, ok := users[userID]; !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(s.sets, convID)
	}
	return true
}

// RemoveUser clears userID from every conversation and returns the
// conversations it was typing in.
func (s *Store) RemoveUser(userID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var affected []string
	for convID, users := range s.sets {
		if _, ok := users[userID]; ok {
			affected = append(affected, convID)
		}
	}
	for _, convID := range affected {
		s.stop(convID, userID)
	}
	sort.Strings(affected)
	return affected
}

// Typing returns the users typing in convID ordered by user id.
func (s *Store) Typing(convID string) []Typist {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := s.sets[convID]
	list := make([]Typist, 0, len(users))
	for id, name := range users {
		list = append(list, Typist{UserID: id, Name: name})
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].UserID < list[j].UserID
	})
	return list
}

// Len returns the number of conversations with at least one typist.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}
