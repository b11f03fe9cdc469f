// Package users resolves principals to human-readable display names for
// the editor's presence UI.
package users

import "strings"

// Resolver maps a principal id to a display name.
type Resolver interface {
	FriendlyName(user string) string
}

// Static resolves names from a fixed map, falling back to the last
// dot-separated segment of the principal id (e.g. "users.Alice" shows
// as "Alice").
type Static struct {
	Names map[string]string
}

var _ Resolver = (*Static)(nil)

func NewStatic(names map[string]string) *Static {
	if names == nil {
		names = make(map[string]string)
	}
	return &Static{Names: names}
}

func (s *Static) FriendlyName(user string) string {
	if name := strings.TrimSpace(s.Names[user]); name != "" {
		return name
	}
	if i := strings.LastIndex(user, "."); i >= 0 && i < len(user)-1 {
		return user[i+1:]
	}
	return user
}
