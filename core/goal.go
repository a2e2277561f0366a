package core

import "strings"

// Goal is a per-session objective resolved from configuration. A goal is
// considered satisfied the first time any of its keywords appears in a
// finalized utterance or assistant response; completion is monotonic for the
// lifetime of the session.
type Goal struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Matches reports whether the text satisfies the goal's trigger condition.
func (g Goal) Matches(text string) bool {
	lowered := strings.ToLower(text)
	for _, keyword := range g.Keywords {
		if keyword == "" {
			continue
		}
		if strings.Contains(lowered, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}
