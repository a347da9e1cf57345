package persist

import (
	"strings"
	"unicode"

	"github.com/jonwraymond/querysync/cache"
)

// Denylist decides which cache entries are never persisted.
//
// Key segments are split into lower-case words at punctuation, spaces and
// camelCase boundaries ("accessToken" -> access, token). A term matches
// when its words appear consecutively in one segment, so "api_key" denies
// ["settings","apiKey"] while "token" does not deny ["tokenization"].
type Denylist struct {
	// Terms are words or word sequences ("password", "api key").
	Terms []string
	// Categories are never persisted whatever the key.
	Categories []cache.Category
}

// DefaultDenylist covers credentials and highly volatile data.
func DefaultDenylist() Denylist {
	return Denylist{
		Terms: []string{
			// sensitive
			"token", "tokens", "password", "passwords", "secret", "secrets",
			"credential", "credentials", "api key", "apikey", "session", "sessions",
			"auth", "otp", "pin",
			// volatile
			"metrics", "live", "logs", "log", "realtime", "presence",
		},
		Categories: []cache.Category{cache.CategoryRealtime},
	}
}

// Denies reports whether an entry with key and category must not be
// persisted.
func (d Denylist) Denies(key cache.Key, category cache.Category) bool {
	for _, c := range d.Categories {
		if c == category {
			return true
		}
	}
	if len(d.Terms) == 0 {
		return false
	}
	terms := make([][]string, 0, len(d.Terms))
	for _, t := range d.Terms {
		if w := words(t); len(w) > 0 {
			terms = append(terms, w)
		}
	}
	for _, seg := range key.Segments() {
		segWords := words(seg)
		for _, t := range terms {
			if containsRun(segWords, t) {
				return true
			}
		}
	}
	return false
}

// words splits s into lower-case words.
func words(s string) []string {
	var out []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			out = append(out, strings.ToLower(string(cur)))
			cur = cur[:0]
		}
	}
	runes := []rune(s)
	for i, r := range runes {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			flush()
			continue
		}
		if unicode.IsUpper(r) && len(cur) > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				flush()
			}
		}
		cur = append(cur, r)
	}
	flush()
	return out
}

func containsRun(haystack, needle []string) bool {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}
