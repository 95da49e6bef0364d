// Package exclusions implements the wildcard hostname matcher gating which
// authorities bypass TLS interception.
package exclusions

import (
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

var foldCaser = cases.Fold()

// defaultPatterns is the built-in Apple service exclusion list per Apple
// HT210060. These hosts must never have TLS interception attempted against
// them: Apple's client pins certificates or otherwise rejects a locally
// signed leaf, breaking iCloud, App Store, and related services.
var defaultPatterns = []string{
	"*.apple.com",
	"static.ips.apple.com",
	"*.push.apple.com",
	"setup.icloud.com",
	"*.business.apple.com",
	"*.school.apple.com",
	"upload.appleschoolcontent.com",
	"ws-ee-maidsvc.icloud.com",
	"itunes.com",
	"appldnld.apple.com.edgesuite.net",
	"*.itunes.apple.com",
	"updates-http.cdn-apple.com",
	"updates.cdn-apple.com",
	"*.apps.apple.com",
	"*.mzstatic.com",
	"*.appattest.apple.com",
	"doh.dns.apple.com",
	"appleid.cdn-apple.com",
	"*.apple-cloudkit.com",
	"*.apple-livephotoskit.com",
	"*.apzones.com",
	"*.cdn-apple.com",
	"*.gc.apple.com",
	"*.icloud.com",
	"*.icloud.com.cn",
	"*.icloud.apple.com",
	"*.icloud-content.com",
	"*.iwork.apple.com",
	"mask.icloud.com",
	"mask-h2.icloud.com",
	"mask-api.icloud.com",
	"devimages-cdn.apple.com",
	"download.developer.apple.com",
}

// Matcher is a case-insensitive wildcard hostname matcher. Patterns support
// `*` (any run of characters) and `?` (exactly one character); there is no
// path or segment semantics, unlike a filesystem glob.
//
// A fixed built-in pattern set is always active, independent of Replace.
type Matcher struct {
	mu       sync.RWMutex
	builtins []compiledPattern
	user     []compiledPattern
}

type compiledPattern struct {
	raw   string
	parts []string // alternating literal runs, split on *, with ? left embedded
}

// New returns a Matcher with the built-in Apple exclusion list active and
// no user patterns.
func New() *Matcher {
	m := &Matcher{}
	m.builtins = compileAll(defaultPatterns)
	return m
}

// Replace atomically swaps the user-supplied pattern set. Patterns are
// lowercased (Unicode case folding) before compilation. The built-in list
// is unaffected.
func (m *Matcher) Replace(patterns []string) {
	compiled := compileAll(patterns)
	m.mu.Lock()
	m.user = compiled
	m.mu.Unlock()
}

// Contains reports whether host matches any built-in or user pattern, after
// lowercasing host the same way patterns are lowercased.
func (m *Matcher) Contains(host string) bool {
	folded := foldCaser.String(host)

	m.mu.RLock()
	user := m.user
	m.mu.RUnlock()

	for _, p := range m.builtins {
		if matchParts(p.parts, folded) {
			return true
		}
	}
	for _, p := range user {
		if matchParts(p.parts, folded) {
			return true
		}
	}
	return false
}

// UserPatterns returns the raw (pre-fold) patterns currently installed by
// the most recent Replace call, for reporting via the management API.
func (m *Matcher) UserPatterns() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.user))
	for i, p := range m.user {
		out[i] = p.raw
	}
	return out
}

func compileAll(patterns []string) []compiledPattern {
	out := make([]compiledPattern, 0, len(patterns))
	for _, p := range patterns {
		trimmed := strings.TrimSpace(p)
		if trimmed == "" {
			continue
		}
		folded := foldCaser.String(trimmed)
		out = append(out, compiledPattern{raw: trimmed, parts: splitWildcard(folded)})
	}
	return out
}

// splitWildcard splits a pattern on '*' into literal segments that may still
// contain '?' wildcards. An empty slice element represents an adjacent pair
// of '*' or a leading/trailing '*'.
func splitWildcard(pattern string) []string {
	return strings.Split(pattern, "*")
}

// matchParts implements glob matching for patterns pre-split on '*', with
// '?' matching exactly one rune within a literal segment. This is the
// classic two-pointer wildcard algorithm, anchored at both ends.
func matchParts(parts []string, s string) bool {
	if len(parts) == 1 {
		return matchLiteral(parts[0], s)
	}

	// Leading segment (before the first '*') must be a prefix.
	first := parts[0]
	if !hasLiteralPrefix(s, first) {
		return false
	}
	s = s[len(first):]

	// Trailing segment (after the last '*') must be a suffix.
	last := parts[len(parts)-1]
	if !hasLiteralSuffix(s, last) {
		return false
	}
	s = s[:len(s)-len(last)]

	// Middle segments must appear in order, non-overlapping.
	for _, mid := range parts[1 : len(parts)-1] {
		if mid == "" {
			continue // adjacent '*' collapses to nothing extra to require
		}
		idx := findLiteral(s, mid)
		if idx < 0 {
			return false
		}
		s = s[idx+len(mid):]
	}
	return true
}

// matchLiteral matches a '*'-free pattern (possibly containing '?') against
// the whole string, rune by rune.
func matchLiteral(pattern, s string) bool {
	pr := []rune(pattern)
	sr := []rune(s)
	if len(pr) != len(sr) {
		return false
	}
	for i := range pr {
		if pr[i] != '?' && pr[i] != sr[i] {
			return false
		}
	}
	return true
}

func hasLiteralPrefix(s, pattern string) bool {
	sr := []rune(s)
	pr := []rune(pattern)
	if len(sr) < len(pr) {
		return false
	}
	for i := range pr {
		if pr[i] != '?' && pr[i] != sr[i] {
			return false
		}
	}
	return true
}

func hasLiteralSuffix(s, pattern string) bool {
	sr := []rune(s)
	pr := []rune(pattern)
	if len(sr) < len(pr) {
		return false
	}
	off := len(sr) - len(pr)
	for i := range pr {
		if pr[i] != '?' && pr[i] != sr[off+i] {
			return false
		}
	}
	return true
}

// findLiteral finds the first index (in runes, returned as a byte offset
// for pattern containing only ASCII '?'; hostnames are ASCII in practice)
// where pattern matches within s, honoring '?' wildcards.
func findLiteral(s, pattern string) int {
	sr := []rune(s)
	pr := []rune(pattern)
	if len(pr) > len(sr) {
		return -1
	}
	for start := 0; start+len(pr) <= len(sr); start++ {
		ok := true
		for i := range pr {
			if pr[i] != '?' && pr[i] != sr[start+i] {
				ok = false
				break
			}
		}
		if ok {
			return len(string(sr[:start]))
		}
	}
	return -1
}
