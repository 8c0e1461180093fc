// Package auth defines the identity provider contract. The provider owns
// credentials and the authentication protocol; consumers only observe
// session changes and trigger the sign-in/out flows.
package auth

import (
	"context"
	"errors"
)

// Identity is a signed-in principal as reported by the provider. UID is
// stable and unique; Email is verified by the provider.
type Identity struct {
	UID           string
	Email         string
	DisplayName   string
	EmailVerified bool
}

// SessionFunc observes session changes. identity is nil when signed out.
type SessionFunc func(identity *Identity)

// CancelFunc releases a session subscription.
type CancelFunc func()

// Token is an opaque session credential issued on sign-in, accepted by
// Verify. Transport-level surfaces carry it as a bearer credential.
type Token string

// Provider is the identity collaborator surface.
type Provider interface {
	// SubscribeSession delivers the current session immediately and every
	// subsequent change until cancelled.
	SubscribeSession(fn SessionFunc) CancelFunc

	SignIn(ctx context.Context, email, password string) (Identity, Token, error)

	// SignUp registers credentials and sets the display name in one flow.
	SignUp(ctx context.Context, email, password, displayName string) (Identity, Token, error)

	SendPasswordReset(ctx context.Context, email string) error

	SignOut(ctx context.Context) error

	// Verify resolves a previously issued token back to an identity.
	Verify(ctx context.Context, token Token) (Identity, error)
}

// Provider error codes. Adapters return these wrapped so flows can
// translate them for users without depending on adapter internals.
var (
	ErrEmailInUse         = errors.New("email-already-in-use")
	ErrUsernameTaken      = errors.New("username-already-in-use")
	ErrWeakPassword       = errors.New("weak-password")
	ErrInvalidCredential  = errors.New("invalid-credential")
	ErrUserNotFound       = errors.New("user-not-found")
	ErrInvalidToken       = errors.New("invalid-token")
	ErrRegistrationClosed = errors.New("registration-closed")
)

// HumanizeError turns provider error codes into short messages suitable
// for direct display. Auth flows are the only mutations whose failures
// surface to the user.
func HumanizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmailInUse):
		return "Email is already registered."
	case errors.Is(err, ErrUsernameTaken):
		return "Username is already taken."
	case errors.Is(err, ErrWeakPassword):
		return "Password should be at least 6 characters."
	case errors.Is(err, ErrInvalidCredential), errors.Is(err, ErrUserNotFound):
		return "Invalid email or password."
	case errors.Is(err, ErrRegistrationClosed):
		return "Registration is currently closed."
	default:
		return "Something went wrong. Please try again."
	}
}
