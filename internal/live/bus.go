// Package live implements change notification for stored tables and the
// reactive queries built on it. Writers publish the tables they modified;
// subscriptions watching those tables re-run their query and deliver the new
// result.
package live

import (
	"sync"
)

// Bus routes table change signals to watchers. The zero value is not usable;
// create one with NewBus. A nil *Bus behaves as a closed one: Publish does
// nothing, and watches deliver their first result and end.
type Bus struct {
	mu       sync.Mutex
	watchers map[string]map[*watcher]struct{}
	closed   bool
}

// watcher receives coalesced signals for a set of tables.
type watcher struct {
	ch     chan struct{}
	tables []string
	closed bool // guarded by Bus.mu
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{watchers: make(map[string]map[*watcher]struct{})}
}

// Publish signals every watcher of the given tables. It never blocks: a
// watcher with a pending signal is already going to re-run.
func (b *Bus) Publish(tables ...string) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	seen := make(map[*watcher]struct{})
	for _, t := range tables {
		for w := range b.watchers[t] {
			if _, ok := seen[w]; ok {
				continue
			}
			seen[w] = struct{}{}
			select {
			case w.ch <- struct{}{}:
			default:
			}
		}
	}
}

// register adds a watcher for tables. On a closed or nil bus the watcher is
// returned already closed.
func (b *Bus) register(tables []string) *watcher {
	w := &watcher{ch: make(chan struct{}, 1), tables: tables}
	if b == nil {
		w.closed = true
		close(w.ch)
		return w
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		w.closed = true
		close(w.ch)
		return w
	}
	for _, t := range tables {
		set := b.watchers[t]
		if set == nil {
			set = make(map[*watcher]struct{})
			b.watchers[t] = set
		}
		set[w] = struct{}{}
	}
	return w
}

func (b *Bus) unregister(w *watcher) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range w.tables {
		if set := b.watchers[t]; set != nil {
			delete(set, w)
			if len(set) == 0 {
				delete(b.watchers, t)
			}
		}
	}
	if !w.closed {
		w.closed = true
		close(w.ch)
	}
}

// Close detaches every watcher. Subscriptions end and listener channels are
// closed; later calls to Publish do nothing.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, set := range b.watchers {
		for w := range set {
			if !w.closed {
				w.closed = true
				close(w.ch)
			}
		}
	}
	b.watchers = make(map[string]map[*watcher]struct{})
}

// WatcherCount returns the number of registered watchers of table.
func (b *Bus) WatcherCount(table string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers[table])
}

// Listener delivers raw change signals for a set of tables.
type Listener struct {
	bus *Bus
	w   *watcher
}

// Listen registers a listener for tables. Signals are coalesced: a burst of
// writes may produce a single signal.
func (b *Bus) Listen(tables ...string) *Listener {
	return &Listener{bus: b, w: b.register(tables)}
}

// C returns the signal channel. It is closed by Close or Bus.Close.
func (l *Listener) C() <-chan struct{} {
	return l.w.ch
}

// Close unregisters the listener.
func (l *Listener) Close() {
	l.bus.unregister(l.w)
}
