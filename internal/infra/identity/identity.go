// Package identity implements the identity provider on the accounts
// table: bcrypt credentials, HS256 bearer tokens, and an in-process
// session broadcast.
package identity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/mdmahbub/amarkotha/auth"
	"github.com/mdmahbub/amarkotha/internal/infra/database/models"
)

var tracer = otel.Tracer("identity")

const minPasswordLen = 6

type Provider struct {
	db       *gorm.DB
	secret   []byte
	tokenTTL time.Duration

	mu          sync.Mutex
	current     *auth.Identity
	subscribers map[int]auth.SessionFunc
	nextID      int
}

func NewProvider(db *gorm.DB, secret string, tokenTTL time.Duration) *Provider {
	return &Provider{
		db:          db,
		secret:      []byte(secret),
		tokenTTL:    tokenTTL,
		subscribers: map[int]auth.SessionFunc{},
	}
}

func (p *Provider) SubscribeSession(fn auth.SessionFunc) auth.CancelFunc {
	p.mu.Lock()
	p.nextID++
	id := p.nextID
	p.subscribers[id] = fn
	current := p.current
	p.mu.Unlock()

	fn(current)

	return func() {
		p.mu.Lock()
		delete(p.subscribers, id)
		p.mu.Unlock()
	}
}

func (p *Provider) SignIn(ctx context.Context, email, password string) (auth.Identity, auth.Token, error) {
	ctx, span := tracer.Start(ctx, "Identity.SignIn")
	defer span.End()

	var account models.Account
	err := p.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&account).Error
	if err == gorm.ErrRecordNotFound {
		return auth.Identity{}, "", auth.ErrUserNotFound
	}
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, "", errors.Wrap(err, "account lookup failed")
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return auth.Identity{}, "", auth.ErrInvalidCredential
	}

	identity := identityOf(account)
	token, err := p.issue(account)
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, "", err
	}

	p.broadcast(&identity)
	return identity, token, nil
}

func (p *Provider) SignUp(ctx context.Context, email, password, displayName string) (auth.Identity, auth.Token, error) {
	ctx, span := tracer.Start(ctx, "Identity.SignUp")
	defer span.End()

	if len(password) < minPasswordLen {
		return auth.Identity{}, "", auth.ErrWeakPassword
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, "", errors.Wrap(err, "password hash failed")
	}

	account := models.Account{
		UID:          ulid.Make().String(),
		Email:        normalizeEmail(email),
		PasswordHash: string(hash),
		DisplayName:  displayName,
	}
	err = p.db.WithContext(ctx).Create(&account).Error
	if err == gorm.ErrDuplicatedKey {
		return auth.Identity{}, "", auth.ErrEmailInUse
	}
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, "", errors.Wrap(err, "account create failed")
	}

	identity := identityOf(account)
	token, err := p.issue(account)
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, "", err
	}

	p.broadcast(&identity)
	return identity, token, nil
}

// SendPasswordReset logs the reset token instead of mailing it. There is
// no mailer yet; an operator can hand the token over out of band.
// TODO: wire an SMTP sender once the deployment has one.
func (p *Provider) SendPasswordReset(ctx context.Context, email string) error {
	ctx, span := tracer.Start(ctx, "Identity.SendPasswordReset")
	defer span.End()

	var account models.Account
	err := p.db.WithContext(ctx).
		Where("email = ?", normalizeEmail(email)).
		Take(&account).Error
	if err == gorm.ErrRecordNotFound {
		// do not leak which emails exist
		return nil
	}
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "account lookup failed")
	}

	token, err := p.issue(account)
	if err != nil {
		span.RecordError(err)
		return err
	}

	slog.Info(
		"Password reset requested",
		slog.String("uid", account.UID),
		slog.String("token", string(token)),
		slog.String("module", "identity"),
	)
	return nil
}

func (p *Provider) SignOut(ctx context.Context) error {
	p.broadcast(nil)
	return nil
}

func (p *Provider) Verify(ctx context.Context, token auth.Token) (auth.Identity, error) {
	ctx, span := tracer.Start(ctx, "Identity.Verify")
	defer span.End()

	parsed, err := jwt.ParseWithClaims(string(token), &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return auth.Identity{}, auth.ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return auth.Identity{}, auth.ErrInvalidToken
	}

	var account models.Account
	err = p.db.WithContext(ctx).
		Where("uid = ?", claims.Subject).
		Take(&account).Error
	if err == gorm.ErrRecordNotFound {
		return auth.Identity{}, auth.ErrUserNotFound
	}
	if err != nil {
		span.RecordError(err)
		return auth.Identity{}, errors.Wrap(err, "account lookup failed")
	}

	return identityOf(account), nil
}

func (p *Provider) issue(account models.Account) (auth.Token, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   account.UID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(p.tokenTTL)),
		ID:        ulid.Make().String(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(err, "token signing failed")
	}
	return auth.Token(signed), nil
}

func (p *Provider) broadcast(identity *auth.Identity) {
	p.mu.Lock()
	p.current = identity
	fns := make([]auth.SessionFunc, 0, len(p.subscribers))
	for _, fn := range p.subscribers {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(identity)
	}
}

func identityOf(account models.Account) auth.Identity {
	return auth.Identity{
		UID:           account.UID,
		Email:         account.Email,
		DisplayName:   account.DisplayName,
		EmailVerified: account.EmailVerified,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
