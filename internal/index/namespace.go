// Package index holds the namespace scheme for the vector index. A namespace
// is the isolation partition for one legal case; writes at ingestion time and
// reads at query time must derive it identically or retrieval silently misses.
package index

import (
	"strings"
)

// DefaultNamespace receives documents uploaded without a case name.
const DefaultNamespace = "default-case"

// NormalizeNamespace maps a raw user-supplied case name onto its namespace:
// trimmed, lowercased, with every run of characters outside [a-z0-9_-]
// collapsed into a single '-'. The function is pure and idempotent, so
// "Smith vs. Jones" and "smith-vs-jones" land in the same namespace.
func NormalizeNamespace(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return DefaultNamespace
	}

	var b strings.Builder
	b.Grow(len(raw))
	pendingDash := false
	for _, r := range raw {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
			continue
		}
		pendingDash = true
	}

	out := b.String()
	if out == "" {
		return DefaultNamespace
	}
	return out
}
