package sqlstore

import (
	"regexp"
	"strings"
)

// ProhibitedChars is the set of characters Clean refuses.
const ProhibitedChars = "*{}[]();"

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// Clean reports whether s is free of every character in ProhibitedChars.
func Clean(s string) bool {
	return !strings.ContainsAny(s, ProhibitedChars)
}

// ValidIdentifier reports whether s can be spliced into a statement as a
// table name.
func ValidIdentifier(s string) bool {
	return Clean(s) && identPattern.MatchString(s)
}
