package domain

import "strings"

// maxDomainKeyLen bounds domain keys written by event producers.
const maxDomainKeyLen = 50

// NormalizeDomainKey canonicalizes a governance domain name: trimmed,
// ASCII-lowercased, with every character outside [a-z0-9-_] replaced by '_'.
func NormalizeDomainKey(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		switch {
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// ValidDomainKey reports whether a normalized key may be used as a ledger
// domain (non-empty and within the length bound).
func ValidDomainKey(key string) bool {
	return key != "" && len(key) <= maxDomainKeyLen
}
