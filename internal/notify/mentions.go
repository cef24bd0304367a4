// Package notify builds and delivers user notifications: @mention extraction,
// fan-out construction, the Redis-backed stats cache, and mention email.
package notify

import "regexp"

var mentionRegex = regexp.MustCompile(`@(\w+)`)

// ExtractMentions returns the distinct usernames mentioned in text with the
// @-prefix, in order of first appearance. Whether a username actually exists
// is resolved against storage by the caller.
func ExtractMentions(text string) []string {
	matches := mentionRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
