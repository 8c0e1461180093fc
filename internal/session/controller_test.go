package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mdmahbub/amarkotha"
	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/domain"
	"github.com/mdmahbub/amarkotha/internal/mirror"
	"github.com/mdmahbub/amarkotha/store"
)

const adminEmail = "admin@example.com"

// --- mocks ---

type mockProvider struct {
	sessionFn   auth.SessionFunc
	signedOut   bool
	signUpUID   string
	signUpErr   error
	signUpCalls int
	resetEmail  string
}

func (m *mockProvider) SubscribeSession(fn auth.SessionFunc) auth.CancelFunc {
	m.sessionFn = fn
	fn(nil)
	return func() { m.sessionFn = nil }
}

func (m *mockProvider) SignIn(ctx context.Context, email, password string) (auth.Identity, auth.Token, error) {
	return auth.Identity{UID: "u1", Email: email}, "tok", nil
}

func (m *mockProvider) SignUp(ctx context.Context, email, password, displayName string) (auth.Identity, auth.Token, error) {
	m.signUpCalls++
	if m.signUpErr != nil {
		return auth.Identity{}, "", m.signUpErr
	}
	return auth.Identity{UID: m.signUpUID, Email: email, DisplayName: displayName}, "tok", nil
}

func (m *mockProvider) SendPasswordReset(ctx context.Context, email string) error {
	m.resetEmail = email
	return nil
}

func (m *mockProvider) SignOut(ctx context.Context) error {
	m.signedOut = true
	if m.sessionFn != nil {
		m.sessionFn(nil)
	}
	return nil
}

func (m *mockProvider) Verify(ctx context.Context, token auth.Token) (auth.Identity, error) {
	return auth.Identity{}, auth.ErrInvalidToken
}

// mockStore retains subscriptions and records writes.
type mockStore struct {
	subs         map[string]store.SnapshotFunc
	sets         []store.Write
	batchErr     error
	batches      [][]store.Write
	reservations map[string]string
}

func newMockStore() *mockStore {
	return &mockStore{
		subs:         map[string]store.SnapshotFunc{},
		reservations: map[string]string{},
	}
}

func (m *mockStore) Subscribe(ctx context.Context, q store.Query, fn store.SnapshotFunc) (store.CancelFunc, error) {
	key := q.Collection + "/" + q.DocID
	m.subs[key] = fn
	return func() { delete(m.subs, key) }, nil
}

func (m *mockStore) deliverProfile(t *testing.T, uid string, profile any) {
	t.Helper()
	fn, ok := m.subs[amarkotha.CollectionUsers+"/"+uid]
	if !ok {
		t.Fatalf("no profile subscription for %s", uid)
	}
	if profile == nil {
		fn(store.Snapshot{}, nil)
		return
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	fn(store.Snapshot{{ID: uid, Data: raw}}, nil)
}

func (m *mockStore) Get(ctx context.Context, collection, id string) (store.Doc, error) {
	if collection == amarkotha.CollectionUsernames {
		if uid, ok := m.reservations[id]; ok {
			raw, _ := json.Marshal(map[string]string{"uid": uid})
			return store.Doc{ID: id, Data: raw}, nil
		}
	}
	return store.Doc{}, domain.NotFoundError{Resource: "document"}
}
func (m *mockStore) Add(ctx context.Context, collection string, value any) (string, error) {
	return "", nil
}
func (m *mockStore) Set(ctx context.Context, collection, id string, value any) error {
	m.sets = append(m.sets, store.Write{Kind: store.WriteSet, Collection: collection, ID: id, Value: value})
	return nil
}
func (m *mockStore) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	return nil
}
func (m *mockStore) Delete(ctx context.Context, collection, id string) error { return nil }
func (m *mockStore) Batch(ctx context.Context, writes []store.Write) error {
	if m.batchErr != nil {
		return m.batchErr
	}
	m.batches = append(m.batches, writes)
	return nil
}

func newController(provider *mockProvider, st *mockStore) (*Controller, *mirror.EntityCache) {
	cache := mirror.NewEntityCache()
	manager := mirror.NewManager(st)
	c := New(provider, st, manager, cache, adminEmail, nil)
	return c, cache
}

// --- tests ---

func TestLifecycleSignInToAuthenticated(t *testing.T) {
	provider := &mockProvider{}
	st := newMockStore()
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	if c.State().Phase != Unauthenticated {
		t.Fatalf("expected Unauthenticated initially")
	}

	provider.sessionFn(&auth.Identity{UID: "u1", Email: "citizen@example.com"})
	if c.State().Phase != Authenticating {
		t.Fatalf("expected Authenticating before profile delivery")
	}

	st.deliverProfile(t, "u1", amarkotha.User{Name: "Rahim", Role: amarkotha.RoleUser})

	s := c.State()
	if s.Phase != Authenticated || s.User == nil || s.User.Name != "Rahim" {
		t.Fatalf("unexpected state %+v", s)
	}
	if s.Bootstrapped {
		t.Fatalf("existing profile must not be marked bootstrapped")
	}
}

func TestAdminEmailOverridesStoredRole(t *testing.T) {
	provider := &mockProvider{}
	st := newMockStore()
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	provider.sessionFn(&auth.Identity{UID: "u1", Email: "Admin@Example.com"})
	st.deliverProfile(t, "u1", amarkotha.User{Name: "X", Role: amarkotha.RoleUser})

	s := c.State()
	if s.User.Role != amarkotha.RoleAdmin {
		t.Fatalf("expected forced admin role, got %s", s.User.Role)
	}

	// the override applies on every snapshot, not just the first
	st.deliverProfile(t, "u1", amarkotha.User{Name: "X", Role: amarkotha.RoleUser})
	if c.State().User.Role != amarkotha.RoleAdmin {
		t.Fatalf("override lost on re-delivery")
	}
}

func TestMissingProfileBootstrapsDefaultsWithoutPersisting(t *testing.T) {
	provider := &mockProvider{}
	st := newMockStore()
	c, cache := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	provider.sessionFn(&auth.Identity{UID: "u7", Email: "new@example.com", DisplayName: "Karim"})
	st.deliverProfile(t, "u7", nil)

	s := c.State()
	if s.Phase != Authenticated || !s.Bootstrapped {
		t.Fatalf("expected bootstrapped authenticated state, got %+v", s)
	}
	if s.User.Name != "Karim" || s.User.Avatar == "" {
		t.Fatalf("defaults not synthesized: %+v", s.User)
	}
	if len(st.sets) != 0 || len(st.batches) != 0 {
		t.Fatalf("bootstrap must not persist anything")
	}
	if _, ok := cache.User("u7"); !ok {
		t.Fatalf("bootstrapped profile should be cached")
	}
}

func TestSignOutTearsDownAndClears(t *testing.T) {
	provider := &mockProvider{}
	st := newMockStore()
	c, cache := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	provider.sessionFn(&auth.Identity{UID: "u1", Email: "a@b.c"})
	st.deliverProfile(t, "u1", amarkotha.User{Name: "A"})

	raw, _ := json.Marshal(amarkotha.Notification{UserID: "u1", Message: "m"})
	cache.ReplaceNotifications(store.Snapshot{{ID: "n1", Data: raw}})

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("signout failed: %v", err)
	}

	if c.State().Phase != Unauthenticated {
		t.Fatalf("expected Unauthenticated after signout")
	}
	if _, ok := st.subs[amarkotha.CollectionUsers+"/u1"]; ok {
		t.Fatalf("profile watch must be cancelled on signout")
	}
	if len(cache.Notifications()) != 0 {
		t.Fatalf("session-scoped notifications must be cleared")
	}
	if _, err := c.Actor(); !errors.Is(err, domain.ErrAuthRequired) {
		t.Fatalf("expected ErrAuthRequired, got %v", err)
	}
}

func TestSignUpWritesProfileAndUsernameAtomically(t *testing.T) {
	provider := &mockProvider{signUpUID: "u42"}
	st := newMockStore()
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.SignUp(context.Background(), SignUpParams{
		Email:    "joy@example.com",
		Password: "secret1",
		Name:     "Joy",
		Username: " Joy BD ",
	})
	if err != nil {
		t.Fatalf("signup failed: %v", err)
	}

	if len(st.batches) != 1 {
		t.Fatalf("expected one atomic batch, got %d", len(st.batches))
	}
	batch := st.batches[0]
	if len(batch) != 2 {
		t.Fatalf("expected profile + reservation, got %d writes", len(batch))
	}
	if batch[0].Collection != amarkotha.CollectionUsers || batch[0].ID != "u42" {
		t.Fatalf("unexpected profile write %+v", batch[0])
	}
	if batch[1].Collection != amarkotha.CollectionUsernames || batch[1].ID != "joybd" {
		t.Fatalf("unexpected reservation write %+v", batch[1])
	}
	if batch[1].Kind != store.WriteCreate {
		t.Fatalf("reservation must be create-only, got kind %d", batch[1].Kind)
	}
	if len(st.sets) != 0 {
		t.Fatalf("signup must not issue non-batch writes")
	}
}

func TestSignUpRejectsTakenUsername(t *testing.T) {
	provider := &mockProvider{signUpUID: "u1"}
	st := newMockStore()
	st.reservations["joy"] = "u0"
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.SignUp(context.Background(), SignUpParams{
		Email: "joy@example.com", Password: "secret1", Name: "Joy", Username: " Joy ",
	})
	if !errors.Is(err, auth.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if provider.signUpCalls != 0 {
		t.Fatalf("credentials must not be registered for a taken username")
	}
	if len(st.batches) != 0 {
		t.Fatalf("no writes may be issued for a taken username")
	}
	if st.reservations["joy"] != "u0" {
		t.Fatalf("existing reservation must be untouched, got %q", st.reservations["joy"])
	}
}

func TestSignUpUsernameRaceSurfacesAsTaken(t *testing.T) {
	// pre-check passes but another signup claims the name before the
	// batch commits; the store rejects the create-only reservation
	provider := &mockProvider{signUpUID: "u1"}
	st := newMockStore()
	st.batchErr = store.ErrExists
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.SignUp(context.Background(), SignUpParams{
		Email: "joy@example.com", Password: "secret1", Name: "Joy", Username: "joy",
	})
	if !errors.Is(err, auth.ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if len(st.batches) != 0 {
		t.Fatalf("neither document may be visible after the lost race")
	}
}

func TestSignUpBatchFailureLeavesNothingVisible(t *testing.T) {
	provider := &mockProvider{signUpUID: "u42"}
	st := newMockStore()
	st.batchErr = errors.New("write rejected")
	c, _ := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	_, err := c.SignUp(context.Background(), SignUpParams{
		Email: "joy@example.com", Password: "secret1", Name: "Joy", Username: "joy",
	})
	if err == nil {
		t.Fatalf("expected failure")
	}
	if len(st.batches) != 0 || len(st.sets) != 0 {
		t.Fatalf("neither document may be visible after a failed batch")
	}
}

func TestSignUpRespectsRegistrationClosed(t *testing.T) {
	provider := &mockProvider{signUpUID: "u1"}
	st := newMockStore()
	c, cache := newController(provider, st)
	c.Start(context.Background())
	defer c.Stop()

	settings := amarkotha.DefaultSettings()
	settings.RegistrationOpen = false
	raw, _ := json.Marshal(settings)
	cache.ReplaceSettings(store.Snapshot{{ID: amarkotha.SettingsDocID, Data: raw}})

	_, err := c.SignUp(context.Background(), SignUpParams{
		Email: "x@y.z", Password: "secret1", Name: "X", Username: "x",
	})
	if !errors.Is(err, auth.ErrRegistrationClosed) {
		t.Fatalf("expected ErrRegistrationClosed, got %v", err)
	}
}
