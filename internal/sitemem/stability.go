package sitemem

import (
	"regexp"
	"strings"
	"unicode"
)

// Framework-generated id/class shapes that change between builds. A selector
// built on one of these dies on the next deploy, so synthesis rejects them.
var unstablePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^jss\d+$`),
	regexp.MustCompile(`^[Mm]ui.*-\d+$`),
	regexp.MustCompile(`^css-[a-zA-Z0-9]{4,}$`),
	regexp.MustCompile(`^sc-[a-zA-Z0-9]{4,}$`),
	regexp.MustCompile(`^chakra-.*-\d+$`),
	regexp.MustCompile(`^ember\d+$`),
	regexp.MustCompile(`^svelte-[a-z0-9]{5,}$`),
}

// Stable reports whether an id or class token is safe to build a selector
// on. Besides the known framework shapes, any run of six or more characters
// mixing letters and digits is treated as a build hash.
func Stable(token string) bool {
	if token == "" {
		return false
	}
	for _, p := range unstablePatterns {
		if p.MatchString(token) {
			return false
		}
	}
	for _, run := range alnumRuns(token) {
		if len(run) >= 6 && mixesLettersAndDigits(run) {
			return false
		}
	}
	return true
}

// alnumRuns splits a token at separators so "col-md-6" yields runs that are
// each judged alone.
func alnumRuns(token string) []string {
	return strings.FieldsFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func mixesLettersAndDigits(run string) bool {
	hasLetter, hasDigit := false, false
	for _, r := range run {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLetter && hasDigit
}

// stableClass returns the first class token that passes the filter.
func stableClass(classes []string) (string, bool) {
	for _, c := range classes {
		if Stable(c) {
			return c, true
		}
	}
	return "", false
}
