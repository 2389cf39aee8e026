package textutil

import (
	"regexp"
	"strings"
)

var (
	unsafeChars   = strings.NewReplacer("/", "-", "\\", "", ":", "", "?", "", "\"", "", "<", "", ">", "", "|", "", "*", "")
	spaceCollapse = regexp.MustCompile(`\s+`)
)

// SanitizeName makes a show or movie name safe as a file or directory name.
// Unsafe characters are dropped (slashes become dashes), leading dots are
// stripped so nothing hides as a dotfile, and whitespace runs collapse to a
// single space. Applying it twice yields the same result.
func SanitizeName(name string) string {
	name = unsafeChars.Replace(name)
	name = spaceCollapse.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".")
	return strings.TrimSpace(name)
}

// SanitizeToken lowers a name into a flat filesystem token for cache paths.
// Returns "unknown" when nothing survives.
func SanitizeToken(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	var b strings.Builder
	for _, r := range value {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		case r == ' ' || r == '.':
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_-")
	if out == "" {
		return "unknown"
	}
	return out
}
