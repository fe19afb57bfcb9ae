package topicmanager

import "sync"

// waiter is registered by a Take call while it waits for a job.
type waiter struct {
	wake chan struct{}
}

func (w *waiter) signal() {
	// The buffer holds a single pending wakeup,
	// further signals before the waiter reads it are redundant.
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// waiters maps queue names to the waiter of the Take
// currently blocked for that queue.
type waiters struct {
	mtx     sync.Mutex
	waiting map[string]*waiter
}

func newWaiters() *waiters {
	return &waiters{waiting: make(map[string]*waiter)}
}

// register replaces any waiter of queue with a new one.
func (ws *waiters) register(queue string) *waiter {
	w := &waiter{wake: make(chan struct{}, 1)}

	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	ws.waiting[queue] = w
	return w
}

// unregister removes w if it is still the waiter of queue.
func (ws *waiters) unregister(queue string, w *waiter) {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	if ws.waiting[queue] == w {
		delete(ws.waiting, queue)
	}
}

// isRegistered returns false after the waiter
// was removed by stop.
func (ws *waiters) isRegistered(queue string, w *waiter) bool {
	ws.mtx.Lock()
	defer ws.mtx.Unlock()

	return ws.waiting[queue] == w
}

// wake wakes the waiter of queue if there is one.
func (ws *waiters) wake(queue string) {
	ws.mtx.Lock()
	w := ws.waiting[queue]
	ws.mtx.Unlock()

	if w != nil {
		w.signal()
	}
}

// stop removes and wakes the waiter of queue.
// Returns false if no Take was waiting.
func (ws *waiters) stop(queue string) bool {
	ws.mtx.Lock()
	w := ws.waiting[queue]
	delete(ws.waiting, queue)
	ws.mtx.Unlock()

	if w == nil {
		return false
	}
	w.signal()
	return true
}

// wakeAll wakes every waiting Take.
func (ws *waiters) wakeAll() {
	ws.mtx.Lock()
	all := make([]*waiter, 0, len(ws.waiting))
	for _, w := range ws.waiting {
		all = append(all, w)
	}
	ws.mtx.Unlock()

	for _, w := range all {
		w.signal()
	}
}
