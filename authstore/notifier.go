package authstore

import (
	"sort"
	"sync"
)

// notifier delivers states to subscribers one at a time in the order they were
// added. Whichever goroutine finds it idle does the delivery; a callback that
// causes another transition only queues it, so callbacks may re-enter the store.
type notifier struct {
	mu      sync.Mutex
	subs    map[int]func(State)
	nextID  int
	pending []State
	running bool
	closed  bool
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]func(State))}
}

func (n *notifier) subscribe(fn func(State)) func() {
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

func (n *notifier) add(st State) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.closed {
		n.pending = append(n.pending, st)
	}
}

func (n *notifier) flush() {
	n.mu.Lock()
	if n.running {
		n.mu.Unlock()
		return
	}
	n.running = true

	for len(n.pending) > 0 {
		st := n.pending[0]
		n.pending = n.pending[1:]
		fns := n.snapshot()
		n.mu.Unlock()

		for _, fn := range fns {
			fn(st)
		}
		n.mu.Lock()
	}
	n.running = false
	n.mu.Unlock()
}

// snapshot returns the callbacks in subscription order. Caller holds mu.
func (n *notifier) snapshot() []func(State) {
	ids := make([]int, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(State), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	return fns
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	n.pending = nil
	n.subs = make(map[int]func(State))
}
