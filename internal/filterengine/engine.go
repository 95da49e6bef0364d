package filterengine

import (
	"encoding/base64"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// NetworkResult is the outcome of checking one request URL against the
// currently loaded network rules.
type NetworkResult struct {
	Matched   bool
	Important bool
	Redirect  []byte // resource bytes to serve instead of a plain block, if any
	Exception bool
	Filter    string // the matching rule's raw source text, for diagnostics
	Error     string
}

// CosmeticResult is the outcome of resolving which selectors to hide and
// which script to inject for a given page URL and its observed id/class
// attribute values.
type CosmeticResult struct {
	HiddenSelectors []string
	StyleSelectors  map[string][]string
	InjectedScript  string
}

// Engine evaluates network and cosmetic rules against requests. It is
// replaced wholesale (never mutated in place) whenever the filter lists
// change, so readers never observe a partially-updated rule set.
type Engine struct {
	rules     parsedFilterSet
	resources []Resource
}

// NewEngine parses each raw filter-list text and builds an Engine from the
// process-wide resource bundle (scriptlets + redirectable assets).
func NewEngine(filterTexts []string, resources []Resource) *Engine {
	var combined parsedFilterSet
	for _, text := range filterTexts {
		parsed := ParseFilterList(text)
		combined.network = append(combined.network, parsed.network...)
		combined.cosmetic = append(combined.cosmetic, parsed.cosmetic...)
	}
	return &Engine{rules: combined, resources: resources}
}

// CheckNetworkURL matches reqURL (and its document-context referer) against
// every loaded network rule. Exception rules (@@) and $important rules
// both take precedence over an otherwise-matching block rule, mirroring
// EasyList's own precedence: important beats exception beats plain block.
func (e *Engine) CheckNetworkURL(reqURL, referer string) NetworkResult {
	lowered := strings.ToLower(reqURL)
	docDomain := hostOf(referer)
	if docDomain == "" {
		docDomain = hostOf(reqURL)
	}
	reqDomain := hostOf(reqURL)

	var blocked, excepted *networkRule
	var importantBlock *networkRule

	for i := range e.rules.network {
		r := &e.rules.network[i]
		if !networkPatternMatches(r, lowered) {
			continue
		}
		if !r.domains.matches(docDomain) {
			continue
		}
		if r.thirdParty != nil {
			if *r.thirdParty != isThirdPartyContext(reqDomain, docDomain) {
				continue
			}
		}
		if r.exception {
			excepted = r
			continue
		}
		if r.important {
			importantBlock = r
			continue
		}
		if blocked == nil {
			blocked = r
		}
	}

	switch {
	case importantBlock != nil:
		return e.resultFor(importantBlock)
	case excepted != nil:
		return NetworkResult{Matched: false, Exception: true, Filter: excepted.raw}
	case blocked != nil:
		return e.resultFor(blocked)
	default:
		return NetworkResult{}
	}
}

func (e *Engine) resultFor(r *networkRule) NetworkResult {
	result := NetworkResult{Matched: true, Important: r.important, Filter: r.raw}
	if r.redirect != "" {
		if res, ok := e.findResource(r.redirect); ok {
			if content, err := decodeResource(res); err == nil {
				result.Redirect = content
			}
		}
	}
	return result
}

func (e *Engine) findResource(name string) (Resource, bool) {
	for _, res := range e.resources {
		if res.Name == name {
			return res, true
		}
		for _, alias := range res.Aliases {
			if alias == name {
				return res, true
			}
		}
	}
	return Resource{}, false
}

// CosmeticResourcesFor resolves hide selectors and style-rule selectors
// applicable to pageURL, then unions in the generic (domain-unscoped) hide
// selectors drawn from observed ids/classes unless a rule requested
// generichide for this page. InjectedScript is always left empty: no rule
// kind produces a script, and a "##+js(...)" line is parsed as an ordinary
// selector.
func (e *Engine) CosmeticResourcesFor(pageURL string, ids, classes []string) CosmeticResult {
	domain := hostOf(pageURL)

	result := CosmeticResult{StyleSelectors: map[string][]string{}}
	generichide := e.generichideFor(pageURL, domain)

	// Exceptions are resolved before hides so that rule order within the
	// list never matters (an unhide always wins regardless of whether it
	// appears before or after the rule it cancels).
	excludedSelectors := map[string]bool{}
	for _, rule := range e.rules.cosmetic {
		if rule.exception && (rule.domains.empty() || rule.domains.matches(domain)) {
			excludedSelectors[rule.selector] = true
		}
	}

	for _, rule := range e.rules.cosmetic {
		if rule.exception {
			continue
		}
		if !rule.domains.empty() && !rule.domains.matches(domain) {
			continue
		}
		if rule.domains.empty() {
			// Generic (unscoped) selector: only contributes if the page
			// didn't request generichide and the id/class actually appears.
			if generichide || !genericSelectorApplies(rule.selector, ids, classes) {
				continue
			}
		}
		if excludedSelectors[rule.selector] {
			continue
		}
		if rule.style != "" {
			result.StyleSelectors[rule.selector] = append(result.StyleSelectors[rule.selector], rule.style)
		} else {
			result.HiddenSelectors = append(result.HiddenSelectors, rule.selector)
		}
	}

	return result
}

func (e *Engine) generichideFor(pageURL, domain string) bool {
	lowered := strings.ToLower(pageURL)
	for i := range e.rules.network {
		r := &e.rules.network[i]
		if !r.generichide {
			continue
		}
		if !networkPatternMatches(r, lowered) {
			continue
		}
		if r.domains.matches(domain) {
			return true
		}
	}
	return false
}

// genericSelectorApplies reports whether a generic "##.cls" or "###id"
// selector's class/id token was actually observed on the page, avoiding
// work for selectors that plainly cannot match anything rendered.
func genericSelectorApplies(selector string, ids, classes []string) bool {
	switch {
	case strings.HasPrefix(selector, "."):
		token := selector[1:]
		for _, c := range classes {
			if c == token {
				return true
			}
		}
		return false
	case strings.HasPrefix(selector, "#"):
		token := selector[1:]
		for _, id := range ids {
			if id == token {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func networkPatternMatches(r *networkRule, lowered string) bool {
	switch r.anchor {
	case anchorDomain:
		return domainAnchoredMatch(r.pattern, lowered)
	case anchorStart:
		return strings.HasPrefix(lowered, wildcardPrefix(r.pattern)) && wildcardMatch(r.pattern, lowered)
	default:
		// Unanchored: the pattern may match anywhere in the URL.
		return wildcardMatch("*"+r.pattern, lowered)
	}
}

// domainAnchoredMatch implements EasyList's "||" anchor: the pattern must
// match starting at a domain label boundary within the URL's host, with
// '*' as a wildcard. A '^' is removed before matching, so it does not check
// for a separator character.
func domainAnchoredMatch(pattern, url string) bool {
	host := hostOf(url)
	if host == "" {
		return false
	}

	domainPart, rest := splitDomainAndRest(pattern)
	if !wildcardPrefixMatches(domainPart, host) {
		return false
	}
	if rest == "" {
		return true
	}
	return wildcardAnchoredMatch(rest, remainderAfterHost(url))
}

// splitDomainAndRest divides a "||"-anchored pattern's body into the
// domain label (matched against the URL's host) and everything after the
// first '/' or '^', which must match starting at the URL's host boundary.
func splitDomainAndRest(pattern string) (domainPart, rest string) {
	for i, c := range pattern {
		if c == '/' || c == '^' {
			return pattern[:i], pattern[i:]
		}
	}
	return pattern, ""
}

func remainderAfterHost(fullURL string) string {
	u, err := url.Parse(fullURL)
	if err != nil {
		return ""
	}
	remainder := u.EscapedPath()
	if u.RawQuery != "" {
		remainder += "?" + u.RawQuery
	}
	return strings.ToLower(remainder)
}

// wildcardAnchoredMatch matches rest (still carrying '^'/'*' markers)
// against s, requiring the first literal segment to start at position 0 of
// s: the pattern continues immediately where the domain anchor left off.
func wildcardAnchoredMatch(rest, s string) bool {
	rest = strings.ReplaceAll(rest, "^", "")
	return wildcardMatch(rest, s)
}

func wildcardPrefixMatches(pattern, host string) bool {
	if !strings.Contains(pattern, "*") {
		return host == pattern || strings.HasSuffix(host, "."+pattern)
	}
	return wildcardMatch(pattern, host)
}

func wildcardPrefix(pattern string) string {
	if i := strings.IndexByte(pattern, '*'); i >= 0 {
		return pattern[:i]
	}
	return pattern
}

// wildcardMatch implements the EasyList subset of separator/wildcard
// matching used once a pattern is not domain-anchored: '*' matches any run
// of characters (including empty) and the first segment must match at
// position 0 of s. '^' is removed before matching and places no constraint
// on the input; it does not check for a separator character.
func wildcardMatch(pattern, s string) bool {
	segments := strings.Split(pattern, "*")
	pos := 0
	for i, seg := range segments {
		seg = strings.ReplaceAll(seg, "^", "")
		if seg == "" {
			continue
		}
		idx := strings.Index(s[pos:], seg)
		if idx < 0 {
			return false
		}
		if i == 0 && idx != 0 {
			return false
		}
		pos += idx + len(seg)
	}
	return true
}

// isThirdPartyContext reports whether reqDomain and docDomain fall under
// different registrable domains (eTLD+1), the same comparison EasyList's
// $third-party option uses: sibling subdomains of the same site are
// first-party to each other, but not to an unrelated site.
func isThirdPartyContext(reqDomain, docDomain string) bool {
	if reqDomain == "" || docDomain == "" {
		return false
	}
	reqRoot, err1 := publicsuffix.EffectiveTLDPlusOne(reqDomain)
	docRoot, err2 := publicsuffix.EffectiveTLDPlusOne(docDomain)
	if err1 != nil || err2 != nil {
		return reqDomain != docDomain
	}
	return reqRoot != docRoot
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

func decodeResource(res Resource) ([]byte, error) {
	return base64.StdEncoding.DecodeString(res.ContentBase64)
}
