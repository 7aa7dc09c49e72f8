package util

import (
	"regexp"
	"strings"
)

var (
	nonDial  = regexp.MustCompile(`[^\d\+]+`)
	mobileRe = regexp.MustCompile(`^1[3-9]\d{9}$`)
)

// NormalizePhone strips separators and the +86/0086 country prefix so that
// user input collapses into the 11-digit national mobile form.
func NormalizePhone(raw string) string {
	s := nonDial.ReplaceAllString(strings.TrimSpace(raw), "")

	switch {
	case strings.HasPrefix(s, "+86"):
		s = s[3:]
	case strings.HasPrefix(s, "0086"):
		s = s[4:]
	case strings.HasPrefix(s, "86") && len(s) == 13:
		s = s[2:]
	}

	return s
}

// IsMobile reports whether s is a normalized mainland mobile number.
func IsMobile(s string) bool {
	return mobileRe.MatchString(s)
}

// MaskPhone hides the middle digits, for descriptions and logs.
func MaskPhone(s string) string {
	if len(s) < 7 {
		return s
	}
	return s[:3] + strings.Repeat("*", len(s)-7) + s[len(s)-4:]
}
