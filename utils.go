package amarkotha

import (
	"regexp"
	"strings"
)

// Matches '#' followed by word characters, including the Bengali block so
// tags like #রোড are picked up.
var hashtagPattern = regexp.MustCompile(`#[0-9A-Za-z_\x{0980}-\x{09FF}]+`)

// ExtractHashtags returns the hashtags found in text, lowercased and
// deduplicated, keeping the order of first occurrence.
func ExtractHashtags(text string) []string {
	matches := hashtagPattern.FindAllString(text, -1)
	tags := []string{}
	seen := map[string]bool{}
	for _, m := range matches {
		tag := strings.ToLower(m)
		if seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// NormalizeUsername canonicalizes a username for reservation lookups.
func NormalizeUsername(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", ""))
}

// DefaultAvatarURL derives a deterministic avatar for a fresh identity.
func DefaultAvatarURL(uid string) string {
	return "https://api.dicebear.com/7.x/avataaars/svg?seed=" + uid
}

func equalFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
