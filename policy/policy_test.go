package policy

import (
	"testing"

	"github.com/mdmahbub/amarkotha"
)

func TestCanModifyPost(t *testing.T) {
	post := amarkotha.Post{ID: "p1", AuthorID: "u1"}

	author := &amarkotha.User{ID: "u1", Role: amarkotha.RoleUser}
	admin := &amarkotha.User{ID: "u9", Role: amarkotha.RoleAdmin}
	other := &amarkotha.User{ID: "u2", Role: amarkotha.RoleUser}

	if CanModifyPost(author, post) != ALLOW {
		t.Fatalf("author should be allowed")
	}
	if CanModifyPost(admin, post) != ALLOW {
		t.Fatalf("admin should be allowed")
	}
	if CanModifyPost(other, post) != DENY {
		t.Fatalf("stranger should be denied")
	}
	if CanModifyPost(nil, post) != DENY {
		t.Fatalf("anonymous should be denied")
	}
}

func TestRequireAdmin(t *testing.T) {
	if RequireAdmin(&amarkotha.User{Role: amarkotha.RoleAdmin}) != ALLOW {
		t.Fatalf("admin denied")
	}
	if RequireAdmin(&amarkotha.User{Role: amarkotha.RoleUser}) != DENY {
		t.Fatalf("user allowed")
	}
	if RequireAdmin(nil) != DENY {
		t.Fatalf("nil actor allowed")
	}
}

func TestConclusionOr(t *testing.T) {
	if ALLOW.Or(DENY) != DENY {
		t.Fatalf("DENY must dominate")
	}
	if UNSET.Or(ALLOW) != ALLOW {
		t.Fatalf("ALLOW must beat UNSET")
	}
	if !UNSET.Allowed(true) || UNSET.Allowed(false) {
		t.Fatalf("UNSET must resolve to the default")
	}
}
