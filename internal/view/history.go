package view

import "strings"

// MaxHistory is the number of recent searches kept per session.
const MaxHistory = 5

// History is the recent-search list, most recent first, without duplicates.
type History []string

// Remember moves city to the front, dropping any earlier entry that matches it
// ignoring case and surrounding space, and truncates to MaxHistory. The receiver
// is not modified.
func (h History) Remember(city string) History {
	city = strings.TrimSpace(city)
	if city == "" {
		return h
	}
	out := make(History, 0, MaxHistory)
	out = append(out, city)
	for _, c := range h {
		if len(out) == MaxHistory {
			break
		}
		if sameCity(c, city) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Contains reports whether city is in the history.
func (h History) Contains(city string) bool {
	for _, c := range h {
		if sameCity(c, city) {
			return true
		}
	}
	return false
}

func sameCity(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
