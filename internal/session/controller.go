// Package session tracks the authenticated identity and mirrors it
// against a profile document. The controller is an explicit state
// machine; illegal combinations of "signed in" and "profile loaded" are
// not representable.
package session

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/domain"
	"github.com/mdmahbub/amarkotha/internal/mirror"
	"github.com/mdmahbub/amarkotha/store"
)

type Phase int

const (
	Unauthenticated Phase = iota
	Authenticating
	Authenticated
)

// State is the controller's current tagged state. User is non-nil only in
// the Authenticated phase. Bootstrapped marks a synthesized default
// profile that has not been persisted yet.
type State struct {
	Phase        Phase
	User         *amarkotha.User
	Bootstrapped bool
}

// ChangeFunc observes session state transitions.
type ChangeFunc func(State)

const profileWatch = "session-profile"

// Controller drives the Unauthenticated -> Authenticating ->
// Authenticated lifecycle off the identity provider's session signal.
type Controller struct {
	provider   auth.Provider
	st         store.Store
	manager    *mirror.Manager
	cache      *mirror.EntityCache
	adminEmail string
	exec       func(func())

	mu            sync.RWMutex
	state         State
	identity      *auth.Identity
	cancelSession auth.CancelFunc
	onChange      ChangeFunc
}

// New builds a controller. adminEmail is the injected administrator
// address; exec serializes cache-mutating callbacks (the app supplies its
// event loop, nil means run inline).
func New(provider auth.Provider, st store.Store, manager *mirror.Manager, cache *mirror.EntityCache, adminEmail string, exec func(func())) *Controller {
	if exec == nil {
		exec = func(fn func()) { fn() }
	}
	return &Controller{
		provider:   provider,
		st:         st,
		manager:    manager,
		cache:      cache,
		adminEmail: strings.ToLower(strings.TrimSpace(adminEmail)),
		exec:       exec,
		state:      State{Phase: Unauthenticated},
	}
}

// OnChange registers the transition observer. Must be set before Start.
func (c *Controller) OnChange(fn ChangeFunc) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

// Start subscribes to the identity provider's session signal.
func (c *Controller) Start(ctx context.Context) {
	cancel := c.provider.SubscribeSession(func(identity *auth.Identity) {
		c.exec(func() { c.handleSession(ctx, identity) })
	})
	c.mu.Lock()
	c.cancelSession = cancel
	c.mu.Unlock()
}

// Stop tears down the profile watch and the session subscription, in that
// order (reverse of bring-up).
func (c *Controller) Stop() {
	c.manager.Unwatch(profileWatch)
	c.mu.Lock()
	cancel := c.cancelSession
	c.cancelSession = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Actor returns the authenticated profile or ErrAuthRequired; the
// mutation dispatcher gates every operation on it.
func (c *Controller) Actor() (*amarkotha.User, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.state.Phase != Authenticated || c.state.User == nil {
		return nil, domain.ErrAuthRequired
	}
	u := *c.state.User
	return &u, nil
}

func (c *Controller) handleSession(ctx context.Context, identity *auth.Identity) {
	if identity == nil {
		c.manager.Unwatch(profileWatch)
		c.cache.ClearNotifications()
		c.setState(State{Phase: Unauthenticated}, nil)
		return
	}

	id := *identity
	c.setState(State{Phase: Authenticating}, &id)

	err := c.manager.Watch(ctx, profileWatch, store.Query{
		Collection: amarkotha.CollectionUsers,
		DocID:      id.UID,
	}, func(snap store.Snapshot, err error) {
		c.exec(func() { c.handleProfile(id, snap) })
	})
	if err != nil {
		slog.Error("profile watch failed",
			slog.String("uid", id.UID),
			slog.String("error", err.Error()),
			slog.String("module", "session"),
		)
	}
}

func (c *Controller) handleProfile(identity auth.Identity, snap store.Snapshot) {
	var user amarkotha.User
	bootstrapped := false

	if len(snap) > 0 {
		if err := snap[0].Decode(&user); err != nil {
			slog.Warn("undecodable profile document",
				slog.String("uid", identity.UID),
				slog.String("error", err.Error()),
				slog.String("module", "session"),
			)
			return
		}
		user.ID = identity.UID
	} else {
		// No profile document yet: synthesize defaults client-side. The
		// document is persisted on the first profile mutation or by the
		// signup flow, not here.
		name := identity.DisplayName
		if name == "" {
			name = "Citizen"
		}
		user = amarkotha.User{
			ID:       identity.UID,
			Name:     name,
			Avatar:   amarkotha.DefaultAvatarURL(identity.UID),
			JoinedAt: time.Now().UnixMilli(),
		}
		bootstrapped = true
	}

	// Applied on every processed snapshot, not just at creation.
	if c.isAdminEmail(identity.Email) {
		user.Role = amarkotha.RoleAdmin
	}

	c.cache.MergeUser(user)
	c.setState(State{Phase: Authenticated, User: &user, Bootstrapped: bootstrapped}, &identity)
}

func (c *Controller) isAdminEmail(email string) bool {
	return c.adminEmail != "" && strings.ToLower(email) == c.adminEmail
}

func (c *Controller) setState(s State, identity *auth.Identity) {
	c.mu.Lock()
	c.state = s
	c.identity = identity
	fn := c.onChange
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

// SignIn runs the provider flow. Failures come back with a translated
// human-readable message available via auth.HumanizeError.
func (c *Controller) SignIn(ctx context.Context, email, password string) (auth.Token, error) {
	_, token, err := c.provider.SignIn(ctx, email, password)
	if err != nil {
		return "", err
	}
	return token, nil
}

// SignUpParams carries the signup form.
type SignUpParams struct {
	Email    string
	Password string
	Name     string
	Username string
}

// SignUp registers credentials, then persists the profile document and
// the username reservation in one atomic batch: both or neither.
func (c *Controller) SignUp(ctx context.Context, p SignUpParams) (auth.Token, error) {
	if settings, ok := c.cache.Settings(); ok && !settings.RegistrationOpen {
		return "", auth.ErrRegistrationClosed
	}

	username := amarkotha.NormalizeUsername(p.Username)
	if username == "" {
		return "", domain.ValidationError{Reason: "username is required"}
	}

	// the reservation write below is create-only, so this read is a
	// courtesy for a clean error, not the uniqueness guarantee
	_, err := c.st.Get(ctx, amarkotha.CollectionUsernames, username)
	if err == nil {
		return "", auth.ErrUsernameTaken
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return "", errors.Wrap(err, "username lookup failed")
	}

	identity, token, err := c.provider.SignUp(ctx, p.Email, p.Password, p.Name)
	if err != nil {
		return "", err
	}

	role := amarkotha.RoleUser
	if c.isAdminEmail(identity.Email) {
		role = amarkotha.RoleAdmin
	}

	profile := amarkotha.User{
		ID:       identity.UID,
		Name:     p.Name,
		Username: username,
		Email:    strings.ToLower(p.Email),
		Avatar:   amarkotha.DefaultAvatarURL(identity.UID),
		Role:     role,
		Status:   amarkotha.StatusActive,
		JoinedAt: time.Now().UnixMilli(),
	}

	err = c.st.Batch(ctx, []store.Write{
		{Kind: store.WriteSet, Collection: amarkotha.CollectionUsers, ID: identity.UID, Value: profile},
		{Kind: store.WriteCreate, Collection: amarkotha.CollectionUsernames, ID: username, Value: map[string]string{"uid": identity.UID}},
	})
	if errors.Is(err, store.ErrExists) {
		// lost the race for the name between the pre-check and the batch
		return "", auth.ErrUsernameTaken
	}
	if err != nil {
		return "", errors.Wrap(err, "profile creation failed")
	}

	return token, nil
}

// SendPasswordReset forwards to the provider.
func (c *Controller) SendPasswordReset(ctx context.Context, email string) error {
	return c.provider.SendPasswordReset(ctx, email)
}

// SignOut signs out of the provider; the session signal then drives the
// transition to Unauthenticated and the watch teardown.
func (c *Controller) SignOut(ctx context.Context) error {
	return c.provider.SignOut(ctx)
}
