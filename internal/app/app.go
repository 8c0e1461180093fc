// Package app assembles the synchronization core: the entity cache, the
// subscription manager, the session controller and the mutation
// dispatcher, constructed explicitly and wired in a documented order.
package app

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/dispatch"
	"github.com/mdmahbub/amarkotha/internal/mirror"
	"github.com/mdmahbub/amarkotha/internal/session"
	"github.com/mdmahbub/amarkotha/internal/view"
	"github.com/mdmahbub/amarkotha/store"
)

const (
	watchPosts         = "posts"
	watchSettings      = "settings"
	watchNotifications = "notifications"

	eventBuffer = 1024
)

// App owns the process-wide sync state. All cache mutation is funneled
// through one event-processing goroutine; the dispatcher never writes to
// the cache, only to the store.
type App struct {
	Store    store.Store
	Cache    *mirror.EntityCache
	Manager  *mirror.Manager
	Session  *session.Controller
	Dispatch *dispatch.Dispatcher

	adminEmail string

	events chan func()
	done   chan struct{}
	once   sync.Once

	// inline bypasses the event loop; only tests set it.
	inline bool

	// notifUID is the user whose notification watch is active. Only
	// handleSessionChange touches it.
	notifUID string

	mu        sync.Mutex
	observers map[int]chan struct{}
	nextObs   int
}

// New constructs the context object. Nothing is live until Start.
func New(st store.Store, provider auth.Provider, analyzer dispatch.Analyzer, adminEmail string) *App {
	a := &App{
		Store:      st,
		Cache:      mirror.NewEntityCache(),
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		events:     make(chan func(), eventBuffer),
		done:       make(chan struct{}),
		observers:  map[int]chan struct{}{},
	}
	a.Manager = mirror.NewManager(st)
	a.Session = session.New(provider, st, a.Manager, a.Cache, adminEmail, a.enqueue)
	a.Dispatch = dispatch.New(st, a.Cache, a.Session, analyzer)
	return a
}

// Start brings the watches up in order: content, settings, then the
// identity subscription (which in turn owns the per-session watches).
// Content and settings watches persist regardless of session state.
func (a *App) Start(ctx context.Context) error {
	go a.loop()

	err := a.Manager.Watch(ctx, watchPosts, store.Query{
		Collection: amarkotha.CollectionPosts,
		OrderBy:    "timestamp",
		Descending: true,
	}, func(snap store.Snapshot, err error) {
		a.enqueue(func() {
			a.Cache.ReplacePosts(snap)
			a.notify()
		})
	})
	if err != nil {
		return err
	}

	err = a.Manager.Watch(ctx, watchSettings, store.Query{
		Collection: amarkotha.CollectionSettings,
		DocID:      amarkotha.SettingsDocID,
	}, func(snap store.Snapshot, err error) {
		a.enqueue(func() {
			a.Cache.ReplaceSettings(snap)
			a.maybeInitSettings(ctx)
			a.notify()
		})
	})
	if err != nil {
		return err
	}

	a.Session.OnChange(func(s session.State) {
		a.handleSessionChange(ctx, s)
	})
	a.Session.Start(ctx)

	return nil
}

// Close tears everything down in reverse bring-up order.
func (a *App) Close() {
	a.Session.Stop()
	a.Manager.Close()
	a.once.Do(func() { close(a.done) })
}

// Feed projects the cached posts through the filter state.
func (a *App) Feed(f view.Filters) []amarkotha.Post {
	return view.Project(a.Cache.Posts(), f)
}

// Profile returns a user profile, cached or point-fetched. A successful
// fetch merges into the cache without disturbing other entries.
func (a *App) Profile(ctx context.Context, id string) (amarkotha.User, error) {
	if u, ok := a.Cache.User(id); ok {
		return u, nil
	}

	doc, err := a.Store.Get(ctx, amarkotha.CollectionUsers, id)
	if err != nil {
		return amarkotha.User{}, err
	}
	var u amarkotha.User
	if err := doc.Decode(&u); err != nil {
		return amarkotha.User{}, err
	}
	u.ID = doc.ID

	a.enqueue(func() { a.Cache.MergeUser(u) })
	return u, nil
}

// Observe registers a change observer for the realtime surface. The
// returned channel receives a tick after cache changes; the cancel func
// releases it.
func (a *App) Observe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	a.mu.Lock()
	a.nextObs++
	id := a.nextObs
	a.observers[id] = ch
	a.mu.Unlock()

	return ch, func() {
		a.mu.Lock()
		delete(a.observers, id)
		a.mu.Unlock()
	}
}

func (a *App) handleSessionChange(ctx context.Context, s session.State) {
	switch s.Phase {
	case session.Authenticated:
		uid := s.User.ID
		if uid == a.notifUID {
			// profile re-delivery for the same user; the watch is
			// already in place
			a.enqueue(func() { a.maybeInitSettings(ctx) })
			break
		}
		err := a.Manager.Watch(ctx, watchNotifications, store.Query{
			Collection: amarkotha.CollectionNotifications,
			Filters:    []store.Filter{{Field: "userId", Value: uid}},
			OrderBy:    "timestamp",
			Descending: true,
			Limit:      20,
		}, func(snap store.Snapshot, err error) {
			a.enqueue(func() {
				a.Cache.ReplaceNotifications(snap)
				a.notify()
			})
		})
		if err != nil {
			slog.Warn("notification watch failed",
				slog.String("uid", uid),
				slog.String("error", err.Error()),
				slog.String("module", "app"),
			)
		} else {
			a.notifUID = uid
		}
		a.enqueue(func() { a.maybeInitSettings(ctx) })
	case session.Unauthenticated:
		a.Manager.Unwatch(watchNotifications)
		a.notifUID = ""
	}
	a.notify()
}

// maybeInitSettings creates the settings singleton with defaults. Only an
// admin session may initialize it; everyone else keeps reading defaults
// until one does. Runs on the event loop.
func (a *App) maybeInitSettings(ctx context.Context) {
	if _, exists := a.Cache.Settings(); exists {
		return
	}
	actor, err := a.Session.Actor()
	if err != nil || !actor.IsAdmin() {
		return
	}
	if err := a.Store.Set(ctx, amarkotha.CollectionSettings, amarkotha.SettingsDocID, amarkotha.DefaultSettings()); err != nil {
		slog.Warn("settings init failed",
			slog.String("error", err.Error()),
			slog.String("module", "app"),
		)
	}
}

func (a *App) loop() {
	for {
		select {
		case <-a.done:
			return
		case fn := <-a.events:
			fn()
		}
	}
}

// enqueue hands fn to the event loop. The cache is only ever mutated
// from there, which is what makes the single-writer discipline hold.
func (a *App) enqueue(fn func()) {
	if a.inline {
		fn()
		return
	}
	select {
	case a.events <- fn:
	case <-a.done:
	}
}

func (a *App) notify() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, ch := range a.observers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}
