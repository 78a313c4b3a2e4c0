package shaderwatch

import (
	"sync"
	"time"
)

// ReloadEvent reports that a watched shader was successfully recompiled
// and which pipelines consume it. Pipelines is sorted and duplicate-free;
// it may be empty when firing for dependency-free shaders is enabled.
type ReloadEvent struct {
	Path      string
	Pipelines []string
	At        time.Time
}

// ReloadCallback receives reload events.
//
// Callbacks run on the manager's single dispatch goroutine: they are
// serialized with each other and never run on a compiler worker or on
// the caller of Load/Start/Stop. A callback that needs renderer-thread
// affinity should enqueue the event onto its own channel and return;
// blocking in a callback delays every later reload notification.
type ReloadCallback func(ReloadEvent)

// callbackRegistry holds listener registrations. Each registered
// callback is invoked exactly once per event, in unspecified order.
type callbackRegistry struct {
	mu   sync.RWMutex
	next int
	cbs  map[int]ReloadCallback
}

// add registers cb and returns a function that removes it.
func (r *callbackRegistry) add(cb ReloadCallback) func() {
	r.mu.Lock()
	if r.cbs == nil {
		r.cbs = make(map[int]ReloadCallback)
	}
	id := r.next
	r.next++
	r.cbs[id] = cb
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.cbs, id)
		r.mu.Unlock()
	}
}

// invoke calls every registered callback with ev.
func (r *callbackRegistry) invoke(ev ReloadEvent) {
	r.mu.RLock()
	snapshot := make([]ReloadCallback, 0, len(r.cbs))
	for _, cb := range r.cbs {
		snapshot = append(snapshot, cb)
	}
	r.mu.RUnlock()

	for _, cb := range snapshot {
		cb(ev)
	}
}

// len returns the number of registered callbacks.
func (r *callbackRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cbs)
}
