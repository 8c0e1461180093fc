// Package view derives the filtered feed from the cached post list. The
// projection is a pure function: no caching, no side effects, recomputed
// on every call.
package view

import (
	"strings"

	"github.com/mdmahbub/amarkotha"
)

// Filters is the local filter state applied over the cached posts. Zero
// values and the ALL wildcard both mean "match everything" for their
// dimension.
type Filters struct {
	Search   string
	Type     amarkotha.PostType
	Division string
	District string
}

// Project returns the posts matching every filter, preserving input order.
func Project(posts []amarkotha.Post, f Filters) []amarkotha.Post {
	out := []amarkotha.Post{}
	for _, p := range posts {
		if matches(p, f) {
			out = append(out, p)
		}
	}
	return out
}

func matches(p amarkotha.Post, f Filters) bool {
	return matchesSearch(p, f.Search) &&
		matchesType(p, f.Type) &&
		matchesScope(p.Division, f.Division, amarkotha.DivisionNational) &&
		matchesScope(p.District, f.District, amarkotha.DistrictAll)
}

func matchesSearch(p amarkotha.Post, term string) bool {
	if term == "" {
		return true
	}
	t := strings.ToLower(term)
	if strings.Contains(strings.ToLower(p.Title), t) {
		return true
	}
	if strings.Contains(strings.ToLower(p.Description), t) {
		return true
	}
	for _, tag := range p.Hashtags {
		if strings.Contains(strings.ToLower(tag), t) {
			return true
		}
	}
	return false
}

func matchesType(p amarkotha.Post, want amarkotha.PostType) bool {
	return want == "" || want == amarkotha.PostType(amarkotha.FilterAll) || p.Type == want
}

// matchesScope accepts on wildcard filter, exact equality, or the post
// carrying the sentinel that means "all of this scope".
func matchesScope(have, want, sentinel string) bool {
	return want == "" || want == amarkotha.FilterAll || have == sentinel || have == want
}
