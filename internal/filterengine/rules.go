package filterengine

import "strings"

// networkRule is a single parsed EasyList-style network filter, e.g.
// "||ads.example.com^$third-party" or "@@||cdn.example.com^$domain=shop.com".
type networkRule struct {
	raw        string
	exception  bool
	anchor     anchorKind
	pattern    string // lowercased, with '*' wildcard markers preserved
	domains    domainOption
	thirdParty *bool
	important  bool
	generichide bool
	redirect   string
}

type anchorKind int

const (
	anchorNone anchorKind = iota
	anchorDomain               // "||"
	anchorStart                // "|" at pattern start
)

// domainOption implements EasyList's $domain=a.com|~b.com style option: a
// rule applies if the request's document domain matches an included entry
// and no excluded entry.
type domainOption struct {
	include []string
	exclude []string
}

func (d domainOption) empty() bool { return len(d.include) == 0 && len(d.exclude) == 0 }

func (d domainOption) matches(docDomain string) bool {
	if d.empty() {
		return true
	}
	for _, ex := range d.exclude {
		if domainMatches(docDomain, ex) {
			return false
		}
	}
	if len(d.include) == 0 {
		return true
	}
	for _, inc := range d.include {
		if domainMatches(docDomain, inc) {
			return true
		}
	}
	return false
}

func domainMatches(host, suffix string) bool {
	host = strings.ToLower(host)
	suffix = strings.ToLower(suffix)
	if host == suffix {
		return true
	}
	return strings.HasSuffix(host, "."+suffix)
}

// cosmeticRule is a single "##selector" / "#@#selector" EasyList cosmetic
// rule, optionally scoped to a comma-separated domain list.
type cosmeticRule struct {
	domains   domainOption
	exception bool
	selector  string
	// style is set for a uBlock-style `##sel:style(decls)` procedural rule;
	// when non-empty the rule contributes a CSS declaration block rather
	// than a display:none selector.
	style string
}

// parsedFilterSet holds every rule parsed from one or more filter list
// texts, ready to be queried by Engine.
type parsedFilterSet struct {
	network  []networkRule
	cosmetic []cosmeticRule
}

// ParseFilterList parses one EasyList-syntax filter list document, skipping
// comments (lines starting with "!" or "[") and blank lines.
func ParseFilterList(text string) parsedFilterSet {
	var set parsedFilterSet
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "!") || strings.HasPrefix(line, "[") {
			continue
		}
		if idx := cosmeticSeparator(line); idx >= 0 {
			if r, ok := parseCosmeticRule(line, idx); ok {
				set.cosmetic = append(set.cosmetic, r)
			}
			continue
		}
		if r, ok := parseNetworkRule(line); ok {
			set.network = append(set.network, r)
		}
	}
	return set
}

// cosmeticSeparator returns the index of a "##" or "#@#" separator, or -1.
// EasyList overloads '#' for both comments (only at line start, handled by
// the caller) and the cosmetic rule separator, so this only looks for the
// separator once we know the line isn't a comment.
func cosmeticSeparator(line string) int {
	if i := strings.Index(line, "#@#"); i >= 0 {
		return i
	}
	if i := strings.Index(line, "##"); i >= 0 {
		return i
	}
	return -1
}

func parseCosmeticRule(line string, sepIdx int) (cosmeticRule, bool) {
	domainsPart := line[:sepIdx]
	exception := false
	var selector string
	if strings.HasPrefix(line[sepIdx:], "#@#") {
		exception = true
		selector = line[sepIdx+3:]
	} else {
		selector = line[sepIdx+2:]
	}
	if selector == "" {
		return cosmeticRule{}, false
	}

	rule := cosmeticRule{exception: exception}
	if domainsPart != "" {
		rule.domains = parseDomainList(domainsPart, ",")
	}

	if name, decls, ok := parseStyleProcedural(selector); ok {
		rule.selector = name
		rule.style = decls
	} else {
		rule.selector = selector
	}
	return rule, true
}

// parseStyleProcedural recognizes uBlock's "selector:style(declarations)"
// procedural cosmetic filter.
func parseStyleProcedural(selector string) (name, decls string, ok bool) {
	const marker = ":style("
	i := strings.Index(selector, marker)
	if i < 0 || !strings.HasSuffix(selector, ")") {
		return "", "", false
	}
	return selector[:i], selector[i+len(marker) : len(selector)-1], true
}

func parseDomainList(s, sep string) domainOption {
	var opt domainOption
	for _, tok := range strings.Split(s, sep) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		if strings.HasPrefix(tok, "~") {
			opt.exclude = append(opt.exclude, strings.ToLower(tok[1:]))
		} else {
			opt.include = append(opt.include, strings.ToLower(tok))
		}
	}
	return opt
}

func parseNetworkRule(line string) (networkRule, bool) {
	rule := networkRule{raw: line}

	if strings.HasPrefix(line, "@@") {
		rule.exception = true
		line = line[2:]
	}

	pattern := line
	if idx := strings.Index(line, "$"); idx >= 0 {
		pattern = line[:idx]
		applyNetworkOptions(&rule, line[idx+1:])
	}
	if pattern == "" {
		return networkRule{}, false
	}

	switch {
	case strings.HasPrefix(pattern, "||"):
		rule.anchor = anchorDomain
		pattern = pattern[2:]
	case strings.HasPrefix(pattern, "|"):
		rule.anchor = anchorStart
		pattern = pattern[1:]
	}
	rule.pattern = strings.ToLower(pattern)

	return rule, true
}

func applyNetworkOptions(rule *networkRule, opts string) {
	for _, opt := range strings.Split(opts, ",") {
		opt = strings.TrimSpace(opt)
		switch {
		case opt == "third-party" || opt == "3p":
			v := true
			rule.thirdParty = &v
		case opt == "~third-party" || opt == "~3p":
			v := false
			rule.thirdParty = &v
		case opt == "important":
			rule.important = true
		case opt == "generichide":
			rule.generichide = true
		case strings.HasPrefix(opt, "domain="):
			rule.domains = parseDomainList(opt[len("domain="):], "|")
		case strings.HasPrefix(opt, "redirect="):
			rule.redirect = opt[len("redirect="):]
		}
	}
}
