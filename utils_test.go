package amarkotha

import (
	"testing"
)

func TestExtractHashtagsBengali(t *testing.T) {
	tags := ExtractHashtags("Fix the #রোড now #road")

	if len(tags) != 2 {
		t.Fatalf("expected 2 tags got %v", tags)
	}
	if tags[0] != "#রোড" || tags[1] != "#road" {
		t.Fatalf("unexpected tags %v", tags)
	}
}

func TestExtractHashtagsDedupAndCase(t *testing.T) {
	tags := ExtractHashtags("#Dhaka traffic #dhaka again #DHAKA and #jam")

	if len(tags) != 2 {
		t.Fatalf("expected 2 tags got %v", tags)
	}
	if tags[0] != "#dhaka" || tags[1] != "#jam" {
		t.Fatalf("unexpected tags %v", tags)
	}
}

func TestExtractHashtagsNone(t *testing.T) {
	tags := ExtractHashtags("no tags here")
	if tags == nil {
		t.Fatalf("expected empty slice, got nil")
	}
	if len(tags) != 0 {
		t.Fatalf("expected no tags got %v", tags)
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("  Joy BD "); got != "joybd" {
		t.Fatalf("expected joybd got %q", got)
	}
}

func TestPostNormalizeDefaults(t *testing.T) {
	p := Post{ID: "p1", Title: "x"}
	p.Normalize()

	if p.UpvotesBy == nil || p.DownvotesBy == nil || p.Comments == nil || p.Hashtags == nil {
		t.Fatalf("expected lists to be defaulted")
	}
	if p.Division != DivisionNational || p.District != DistrictAll {
		t.Fatalf("expected sentinel scope, got %s/%s", p.Division, p.District)
	}
}

func TestParseCategory(t *testing.T) {
	if got := ParseCategory("health"); got != CategoryHealth {
		t.Fatalf("expected Health got %s", got)
	}
	if got := ParseCategory("unknown thing"); got != CategoryOther {
		t.Fatalf("expected Other got %s", got)
	}
}
