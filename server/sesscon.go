//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

package server

import (
	"github.com/markkurossi/tilert/tcu"
)

// SessionContainer holds the open sessions of a server, up to a fixed
// capacity. Session ids are never reused.
type SessionContainer struct {
	capacity int
	nextID   SessID
	sessions map[SessID]any
}

// NewSessionContainer creates a container for up to capacity
// sessions.
func NewSessionContainer(capacity int) *SessionContainer {
	return &SessionContainer{
		capacity: capacity,
		sessions: make(map[SessID]any),
	}
}

// Add inserts the session and returns its id.
func (sc *SessionContainer) Add(sess any) (SessID, error) {
	if len(sc.sessions) >= sc.capacity {
		return 0, tcu.NoSpace
	}
	sid := sc.nextID
	sc.nextID++
	sc.sessions[sid] = sess
	return sid, nil
}

// Get returns the session.
func (sc *SessionContainer) Get(sid SessID) (any, bool) {
	sess, ok := sc.sessions[sid]
	return sess, ok
}

// Remove removes the session.
func (sc *SessionContainer) Remove(sid SessID) {
	delete(sc.sessions, sid)
}

// Count returns the number of open sessions.
func (sc *SessionContainer) Count() int {
	return len(sc.sessions)
}
