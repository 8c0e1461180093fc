package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mdmahbub/amarkotha/store"
)

// Manager owns the live watches against the document store. Re-issuing a
// watch under the same name supersedes the previous one: the old watch is
// cancelled and any delivery still in flight from it is dropped, so a
// stale snapshot can never overwrite a newer one.
type Manager struct {
	store store.Store

	mu      sync.Mutex
	watches map[string]*watch
	nextGen uint64
	closed  bool
}

type watch struct {
	gen    uint64
	cancel store.CancelFunc
}

func NewManager(st store.Store) *Manager {
	return &Manager{
		store:   st,
		watches: map[string]*watch{},
	}
}

// Watch establishes (or replaces) the named subscription. fn only ever
// receives deliveries from the current incarnation of the watch.
func (m *Manager) Watch(ctx context.Context, name string, q store.Query, fn store.SnapshotFunc) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	prev := m.watches[name]
	m.nextGen++
	gen := m.nextGen
	w := &watch{gen: gen}
	m.watches[name] = w
	m.mu.Unlock()

	if prev != nil && prev.cancel != nil {
		prev.cancel()
	}

	cancel, err := m.store.Subscribe(ctx, q, func(snap store.Snapshot, err error) {
		if !m.current(name, gen) {
			// superseded or cancelled; late delivery is dropped
			return
		}
		if err != nil {
			slog.Warn("subscription delivery failed",
				slog.String("watch", name),
				slog.String("error", err.Error()),
				slog.String("module", "mirror"),
			)
			return
		}
		fn(snap, nil)
	})
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.watches[name] == w && !m.closed {
		w.cancel = cancel
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()
	// replaced while subscribing
	cancel()
	return nil
}

// Unwatch cancels the named subscription and releases its remote watch.
func (m *Manager) Unwatch(name string) {
	m.mu.Lock()
	w := m.watches[name]
	delete(m.watches, name)
	m.mu.Unlock()

	if w != nil && w.cancel != nil {
		w.cancel()
	}
}

// Close cancels every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	watches := m.watches
	m.watches = map[string]*watch{}
	m.mu.Unlock()

	for _, w := range watches {
		if w.cancel != nil {
			w.cancel()
		}
	}
}

func (m *Manager) current(name string, gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.watches[name]
	return w != nil && w.gen == gen && !m.closed
}
