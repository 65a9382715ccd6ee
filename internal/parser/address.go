package parser

import (
	"net/mail"
	"regexp"
	"strings"
)

var bracketed = regexp.MustCompile(`<([^>]+)>`)

// NormalizeAddress turns `"Name" <addr>` into addr, lowercased. Input without
// brackets is returned trimmed and lowercased as is.
func NormalizeAddress(s string) string {
	if m := bracketed.FindStringSubmatch(s); len(m) > 1 {
		return strings.ToLower(strings.TrimSpace(m[1]))
	}
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidEmail reports whether s is a bare address like user@example.com
func ValidEmail(s string) bool {
	if s == "" || strings.ContainsAny(s, " <>") {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}
