// File: dispatch/glob.go
// Author: momentics <momentics@gmail.com>
//
// Shell-style path patterns for handler registrations, compiled once to
// anchored regular expressions. '*' matches any run of characters
// including separators, '?' matches exactly one, and character classes
// pass through with '!' negation translated.

package dispatch

import (
	"fmt"
	"regexp"
	"strings"
)

// hasGlobMeta reports whether pattern contains wildcard syntax. Patterns
// without it are compared literally.
func hasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[")
}

// compileGlob translates a wildcard pattern into an anchored regexp.
func compileGlob(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '[':
			j := i + 1
			if j < len(pattern) && (pattern[j] == '!' || pattern[j] == '^') {
				j++
			}
			if j < len(pattern) && pattern[j] == ']' {
				j++
			}
			for j < len(pattern) && pattern[j] != ']' {
				j++
			}
			if j >= len(pattern) {
				return nil, fmt.Errorf("pattern %q: unterminated character class", pattern)
			}
			class := pattern[i+1 : j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString("$")
	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, fmt.Errorf("pattern %q: %w", pattern, err)
	}
	return re, nil
}
