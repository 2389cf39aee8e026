package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var smallWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "and": true, "or": true,
	"for": true, "to": true, "in": true, "on": true, "at": true, "by": true,
}

var titleCaser = cases.Title(language.English, cases.NoLower)

// TitleCase capitalizes each word of a name, keeping English small words
// lowercase except in first or last position. Words that already contain an
// uppercase letter past the first rune (acronyms, McNames) are left alone.
func TitleCase(name string) string {
	words := strings.Fields(name)
	if len(words) == 0 {
		return ""
	}
	for i, word := range words {
		lower := strings.ToLower(word)
		if smallWords[lower] && i != 0 && i != len(words)-1 {
			words[i] = lower
			continue
		}
		if isMixedCase(word) {
			continue
		}
		words[i] = titleCaser.String(lower)
	}
	return strings.Join(words, " ")
}

// isMixedCase reports whether a word carries deliberate casing, like McCoy
// or iPhone. All-caps and all-lower words do not count.
func isMixedCase(word string) bool {
	var hasLower, hasInnerUpper bool
	for i, r := range word {
		switch {
		case r >= 'a' && r <= 'z':
			hasLower = true
		case i > 0 && r >= 'A' && r <= 'Z':
			hasInnerUpper = true
		}
	}
	return hasLower && hasInnerUpper
}
