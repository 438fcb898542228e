//
// Copyright (c) 2025-2026 Markku Rossi
//
// All rights reserved.
//

// Package thread implements cooperative user threads: exactly one
// thread of a manager runs at a time and control moves only at
// explicit wait, yield, and exit points. Threads block on event
// tokens and are resumed by a notify, optionally carrying a message.
package thread

import (
	"sync"
)

// Event identifies a wait condition. The zero event never blocks:
// it is handed out when waiting could not be answered by any other
// thread.
type Event uint64

// Thread is one cooperative thread.
type Thread struct {
	id    int
	run   chan struct{}
	event Event
	msg   []byte
}

// ID returns the thread id.
func (t *Thread) ID() int {
	return t.id
}

// Manager schedules the cooperative threads of an activity. The
// goroutine creating the manager becomes the main thread.
type Manager struct {
	m       sync.Mutex
	nextID  int
	count   int
	current *Thread
	ready   []*Thread
	blocked []*Thread
	nextEv  Event
}

// NewManager creates a thread manager with the calling goroutine as
// the running main thread.
func NewManager() *Manager {
	mgr := &Manager{}
	mgr.current = mgr.newThread()
	return mgr
}

func (mgr *Manager) newThread() *Thread {
	t := &Thread{
		id:  mgr.nextID,
		run: make(chan struct{}, 1),
	}
	mgr.nextID++
	mgr.count++
	return t
}

// Current returns the running thread.
func (mgr *Manager) Current() *Thread {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	return mgr.current
}

// Count returns the number of live threads.
func (mgr *Manager) Count() int {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	return mgr.count
}

// AllocEvent allocates an event token. With no other thread alive the
// zero event is returned: nobody could ever notify, so the caller
// must not block.
func (mgr *Manager) AllocEvent() Event {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	if mgr.count == 1 {
		return 0
	}
	mgr.nextEv++
	return mgr.nextEv
}

// Spawn creates a new thread running fn. The thread becomes ready;
// it starts when the scheduler selects it.
func (mgr *Manager) Spawn(fn func()) *Thread {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	t := mgr.newThread()
	mgr.ready = append(mgr.ready, t)

	go func() {
		<-t.run
		fn()
		mgr.exit(t)
	}()
	return t
}

// WaitFor blocks the thread until the event is notified and returns
// the message the notify carried. The zero event returns immediately.
// Waiting with no runnable thread left panics: nobody could ever
// notify, so the activity would deadlock.
func (mgr *Manager) WaitFor(ev Event) []byte {
	if ev == 0 {
		return nil
	}
	mgr.m.Lock()
	if len(mgr.ready) == 0 {
		mgr.m.Unlock()
		panic("thread: all threads blocked")
	}
	cur := mgr.current
	cur.event = ev
	cur.msg = nil
	mgr.blocked = append(mgr.blocked, cur)
	mgr.schedule()
	mgr.m.Unlock()

	<-cur.run
	return cur.msg
}

// Notify makes all threads waiting for the event ready and hands them
// a copy of the message. The notifier keeps running.
func (mgr *Manager) Notify(ev Event, msg []byte) {
	if ev == 0 {
		return
	}
	mgr.m.Lock()
	defer mgr.m.Unlock()

	for i := 0; i < len(mgr.blocked); {
		t := mgr.blocked[i]
		if t.event != ev {
			i++
			continue
		}
		t.event = 0
		t.msg = append([]byte(nil), msg...)
		mgr.blocked = append(mgr.blocked[:i], mgr.blocked[i+1:]...)
		mgr.ready = append(mgr.ready, t)
	}
}

// TryYield passes control to the next ready thread, if any.
func (mgr *Manager) TryYield() {
	mgr.m.Lock()
	if len(mgr.ready) == 0 {
		mgr.m.Unlock()
		return
	}
	cur := mgr.current
	mgr.ready = append(mgr.ready, cur)
	mgr.schedule()
	mgr.m.Unlock()

	<-cur.run
}

// FetchMsg returns and clears the message delivered to the running
// thread by the notify that resumed it.
func (mgr *Manager) FetchMsg() []byte {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	msg := mgr.current.msg
	mgr.current.msg = nil
	return msg
}

// Stop resumes every blocked thread with a nil message so they can
// unwind.
func (mgr *Manager) Stop() {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	for _, t := range mgr.blocked {
		t.event = 0
		t.msg = nil
		mgr.ready = append(mgr.ready, t)
	}
	mgr.blocked = nil
}

// exit terminates the thread and schedules the next ready one.
func (mgr *Manager) exit(t *Thread) {
	mgr.m.Lock()
	defer mgr.m.Unlock()

	mgr.count--
	if len(mgr.ready) > 0 {
		mgr.schedule()
	}
}

// schedule picks the next ready thread and hands it the baton. The
// manager lock must be held.
func (mgr *Manager) schedule() {
	next := mgr.ready[0]
	mgr.ready = mgr.ready[1:]
	mgr.current = next
	next.run <- struct{}{}
}
