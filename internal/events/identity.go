package events

import (
	"strings"
)

// Identity is the (token, app id) pair a buffer belongs to. A nil part is
// distinct from an empty string.
type Identity struct {
	Token *string
	AppID *string
}

func NewIdentity(token, appID string) Identity {
	return Identity{Token: &token, AppID: &appID}
}

func (id Identity) Equal(other Identity) bool {
	return equalOptional(id.Token, other.Token) && equalOptional(id.AppID, other.AppID)
}

// Key is a map key that keeps nil and "" apart.
func (id Identity) Key() string {
	var b strings.Builder
	writeOptional(&b, id.Token)
	b.WriteByte('|')
	writeOptional(&b, id.AppID)
	return b.String()
}

// Valid reports whether both parts are present and not blank.
func (id Identity) Valid() bool {
	return present(id.Token) && present(id.AppID)
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func writeOptional(b *strings.Builder, s *string) {
	if s == nil {
		b.WriteByte('-')
		return
	}
	b.WriteByte('+')
	b.WriteString(strings.ReplaceAll(*s, "|", "||"))
}

func present(s *string) bool {
	return s != nil && strings.TrimSpace(*s) != ""
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
