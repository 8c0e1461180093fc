// Package policy holds the courtesy authorization pre-checks applied
// before a mutation is dispatched. The document store's own access rules
// are the security boundary; a DENY here only spares a round trip that
// would be rejected remotely anyway.
package policy

import (
	"github.com/mdmahbub/amarkotha"
)

type Conclusion int

const (
	UNSET Conclusion = iota
	ALLOW
	DENY
)

// Or combines two conclusions: DENY dominates, ALLOW beats UNSET.
func (c Conclusion) Or(other Conclusion) Conclusion {
	if c == DENY || other == DENY {
		return DENY
	}
	if c == ALLOW || other == ALLOW {
		return ALLOW
	}
	return UNSET
}

// Allowed resolves a conclusion against a default.
func (c Conclusion) Allowed(defaultAllow bool) bool {
	if c == UNSET {
		return defaultAllow
	}
	return c == ALLOW
}

// Action names mirror the mutation surface.
type Action string

const (
	ActionEditPost       Action = "post.edit"
	ActionDeletePost     Action = "post.delete"
	ActionManageUsers    Action = "users.manage"
	ActionUpdateSettings Action = "settings.update"
)

// CanModifyPost allows the author and any admin.
func CanModifyPost(actor *amarkotha.User, post amarkotha.Post) Conclusion {
	if actor == nil {
		return DENY
	}
	if actor.IsAdmin() {
		return ALLOW
	}
	if post.AuthorID != "" && post.AuthorID == actor.ID {
		return ALLOW
	}
	return DENY
}

// RequireAdmin gates the admin-only operations.
func RequireAdmin(actor *amarkotha.User) Conclusion {
	if actor.IsAdmin() {
		return ALLOW
	}
	return DENY
}

// Check evaluates an action for an actor over an optional target post.
func Check(action Action, actor *amarkotha.User, post *amarkotha.Post) Conclusion {
	switch action {
	case ActionEditPost, ActionDeletePost:
		if post == nil {
			return DENY
		}
		return CanModifyPost(actor, *post)
	case ActionManageUsers, ActionUpdateSettings:
		return RequireAdmin(actor)
	default:
		return UNSET
	}
}
