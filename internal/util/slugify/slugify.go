// Package slugify derives filesystem- and URL-safe names from job titles,
// matrix entries and artifact names.
package slugify

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var lower = cases.Lower(language.Und)

// Slug converts s to a lowercase ascii slug: diacritics are stripped via
// unicode decomposition, anything outside [a-z0-9._] collapses to a single
// hyphen. The result never starts or ends with a hyphen or dot.
func Slug(s string) string {
	// Decompose so that é becomes e + combining accent, then drop the marks.
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	slug := lower.String(b.String())
	var out strings.Builder
	out.Grow(len(slug))
	lastHyphen := true // suppress leading hyphen
	for _, r := range slug {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
			out.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				out.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.Trim(out.String(), "-.")
}

// Filename slugs s but preserves a trailing extension (".whl" stays intact).
func Filename(s string) string {
	if dot := strings.LastIndexByte(s, '.'); dot > 0 && dot < len(s)-1 {
		base, ext := s[:dot], s[dot+1:]
		if !strings.ContainsAny(ext, " /\\") {
			return Slug(base) + "." + Slug(ext)
		}
	}
	return Slug(s)
}
