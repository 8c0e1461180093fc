package view

import (
	"reflect"
	"testing"

	"github.com/mdmahbub/amarkotha"
)

func fixture() []amarkotha.Post {
	return []amarkotha.Post{
		{
			ID: "p1", Type: amarkotha.PostTypeIssue, Title: "Broken road in Mirpur",
			Description: "potholes everywhere", Hashtags: []string{"#রোড"},
			Division: "Dhaka", District: "Dhaka",
		},
		{
			ID: "p2", Type: amarkotha.PostTypePetition, Title: "School funding",
			Description: "increase budget", Hashtags: []string{"#education"},
			Division: amarkotha.DivisionNational, District: amarkotha.DistrictAll,
		},
		{
			ID: "p3", Type: amarkotha.PostTypePoll, Title: "Metro extension",
			Description: "should it reach Tongi?", Hashtags: []string{},
			Division: "Dhaka", District: "Gazipur",
		},
	}
}

func ids(posts []amarkotha.Post) []string {
	out := []string{}
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func TestProjectNoFiltersKeepsOrder(t *testing.T) {
	got := Project(fixture(), Filters{})
	if !reflect.DeepEqual(ids(got), []string{"p1", "p2", "p3"}) {
		t.Fatalf("unexpected projection %v", ids(got))
	}
}

func TestProjectIsPure(t *testing.T) {
	posts := fixture()
	f := Filters{Search: "road", Division: "Dhaka"}

	first := Project(posts, f)
	second := Project(posts, f)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("repeated invocation differed")
	}
}

func TestProjectSearchMatchesTitleBodyAndTags(t *testing.T) {
	posts := fixture()

	if got := ids(Project(posts, Filters{Search: "ROAD"})); !reflect.DeepEqual(got, []string{"p1"}) {
		t.Fatalf("title match failed: %v", got)
	}
	if got := ids(Project(posts, Filters{Search: "budget"})); !reflect.DeepEqual(got, []string{"p2"}) {
		t.Fatalf("body match failed: %v", got)
	}
	if got := ids(Project(posts, Filters{Search: "#রোড"})); !reflect.DeepEqual(got, []string{"p1"}) {
		t.Fatalf("hashtag match failed: %v", got)
	}
}

func TestProjectSearchNoHitsIsEmpty(t *testing.T) {
	got := Project(fixture(), Filters{Search: "zzz-no-such-term"})
	if len(got) != 0 {
		t.Fatalf("expected empty projection, got %v", ids(got))
	}
}

func TestProjectTypeFilter(t *testing.T) {
	got := ids(Project(fixture(), Filters{Type: amarkotha.PostTypePoll}))
	if !reflect.DeepEqual(got, []string{"p3"}) {
		t.Fatalf("unexpected %v", got)
	}

	all := ids(Project(fixture(), Filters{Type: amarkotha.PostType(amarkotha.FilterAll)}))
	if len(all) != 3 {
		t.Fatalf("wildcard should match everything, got %v", all)
	}
}

func TestProjectScopeSentinels(t *testing.T) {
	// National posts show up for any specific division
	got := ids(Project(fixture(), Filters{Division: "Chattogram"}))
	if !reflect.DeepEqual(got, []string{"p2"}) {
		t.Fatalf("national sentinel did not match: %v", got)
	}

	// district filter: All-scoped posts plus exact matches
	got = ids(Project(fixture(), Filters{Division: "Dhaka", District: "Gazipur"}))
	if !reflect.DeepEqual(got, []string{"p2", "p3"}) {
		t.Fatalf("district filter wrong: %v", got)
	}
}

func TestProjectFiltersAreConjunctive(t *testing.T) {
	got := ids(Project(fixture(), Filters{
		Search:   "metro",
		Type:     amarkotha.PostTypePoll,
		Division: "Dhaka",
		District: "Gazipur",
	}))
	if !reflect.DeepEqual(got, []string{"p3"}) {
		t.Fatalf("unexpected %v", got)
	}

	got = ids(Project(fixture(), Filters{
		Search: "metro",
		Type:   amarkotha.PostTypeIssue,
	}))
	if len(got) != 0 {
		t.Fatalf("conjunction violated: %v", got)
	}
}
