// Package mirror holds the client-side mirror of the remote collections:
// the entity cache and the subscription manager that feeds it.
package mirror

import (
	"log/slog"
	"sync"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/store"
)

// EntityCache holds the last-delivered snapshot per watched collection.
// Posts keep the server-provided order (descending creation time) and are
// never re-sorted locally. Writes arrive only from subscription delivery
// callbacks and the point-fetch merge, all serialized by the app event
// loop; reads may come from any goroutine.
type EntityCache struct {
	mu sync.RWMutex

	posts         []amarkotha.Post
	users         map[string]amarkotha.User
	notifications []amarkotha.Notification
	settings      amarkotha.SiteSettings
	hasSettings   bool
}

func NewEntityCache() *EntityCache {
	return &EntityCache{
		posts:         []amarkotha.Post{},
		users:         map[string]amarkotha.User{},
		notifications: []amarkotha.Notification{},
		settings:      amarkotha.DefaultSettings(),
	}
}

// ReplacePosts ingests a full posts snapshot, replacing the previous one.
// Every absent list field is defaulted so consumers never see nil.
func (c *EntityCache) ReplacePosts(snap store.Snapshot) {
	posts := make([]amarkotha.Post, 0, len(snap))
	for _, doc := range snap {
		var post amarkotha.Post
		if err := doc.Decode(&post); err != nil {
			slog.Warn("dropping undecodable post",
				slog.String("id", doc.ID),
				slog.String("error", err.Error()),
				slog.String("module", "mirror"),
			)
			continue
		}
		post.ID = doc.ID
		post.Normalize()
		posts = append(posts, post)
	}
	c.mu.Lock()
	c.posts = posts
	c.mu.Unlock()
}

// ReplaceNotifications ingests the notification feed snapshot.
func (c *EntityCache) ReplaceNotifications(snap store.Snapshot) {
	items := make([]amarkotha.Notification, 0, len(snap))
	for _, doc := range snap {
		var n amarkotha.Notification
		if err := doc.Decode(&n); err != nil {
			slog.Warn("dropping undecodable notification",
				slog.String("id", doc.ID),
				slog.String("error", err.Error()),
				slog.String("module", "mirror"),
			)
			continue
		}
		n.ID = doc.ID
		items = append(items, n)
	}
	c.mu.Lock()
	c.notifications = items
	c.mu.Unlock()
}

// ClearNotifications drops session-scoped notification state on sign-out.
func (c *EntityCache) ClearNotifications() {
	c.mu.Lock()
	c.notifications = []amarkotha.Notification{}
	c.mu.Unlock()
}

// ReplaceSettings ingests the settings singleton. An empty snapshot means
// the document does not exist yet.
func (c *EntityCache) ReplaceSettings(snap store.Snapshot) {
	if len(snap) == 0 {
		c.mu.Lock()
		c.hasSettings = false
		c.settings = amarkotha.DefaultSettings()
		c.mu.Unlock()
		return
	}
	var s amarkotha.SiteSettings
	if err := snap[0].Decode(&s); err != nil {
		slog.Warn("dropping undecodable settings",
			slog.String("error", err.Error()),
			slog.String("module", "mirror"),
		)
		return
	}
	c.mu.Lock()
	c.settings = s
	c.hasSettings = true
	c.mu.Unlock()
}

// MergeUser inserts or updates one profile without disturbing others.
func (c *EntityCache) MergeUser(u amarkotha.User) {
	c.mu.Lock()
	c.users[u.ID] = u
	c.mu.Unlock()
}

// RemoveUser drops one profile from the mapping.
func (c *EntityCache) RemoveUser(id string) {
	c.mu.Lock()
	delete(c.users, id)
	c.mu.Unlock()
}

// Posts returns the cached post list in server order.
func (c *EntityCache) Posts() []amarkotha.Post {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]amarkotha.Post, len(c.posts))
	copy(out, c.posts)
	return out
}

// Post returns one cached post by id.
func (c *EntityCache) Post(id string) (amarkotha.Post, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.posts {
		if p.ID == id {
			return p, true
		}
	}
	return amarkotha.Post{}, false
}

// User returns one cached profile by id.
func (c *EntityCache) User(id string) (amarkotha.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.users[id]
	return u, ok
}

// Users returns all cached profiles.
func (c *EntityCache) Users() []amarkotha.User {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]amarkotha.User, 0, len(c.users))
	for _, u := range c.users {
		out = append(out, u)
	}
	return out
}

// Notifications returns the cached notification feed, newest first.
func (c *EntityCache) Notifications() []amarkotha.Notification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]amarkotha.Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// Settings returns the current site settings and whether the singleton
// document has been observed remotely.
func (c *EntityCache) Settings() (amarkotha.SiteSettings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.hasSettings
}
