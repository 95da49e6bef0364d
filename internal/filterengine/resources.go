package filterengine

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
)

// ResourceKind distinguishes a scriptlet template (still carrying {{1}}-style
// placeholders to be filled per-request) from an inert resource served
// verbatim for $redirect= matches.
type ResourceKind int

const (
	KindTemplate ResourceKind = iota
	KindJS
	KindHTML
	KindPlain
	KindBinary
)

// Resource is a single named scriptlet or redirectable asset, content
// base64-encoded the way the engine expects to hand it to a response writer.
type Resource struct {
	Name          string
	Aliases       []string
	Kind          ResourceKind
	ContentBase64 string
}

var topCommentRE = regexp.MustCompile(`(?s)^/\*.+?\n\*/\s*`)

// ParseScriptlets reads a scriptlets.js-style asset: a top block comment,
// then sections delimited by a leading "/// name" line, zero or more "///
// key value" property lines, body lines, and a trailing blank line.
func ParseScriptlets(data string) []Resource {
	var resources []Resource

	uncommented := topCommentRE.ReplaceAllString(data, "")

	var name string
	var aliases []string
	var body strings.Builder
	inSection := false

	flush := func() {
		if name == "" {
			return
		}
		script := body.String()
		kind := KindJS
		if strings.Contains(script, "{{1}}") {
			kind = KindTemplate
		}
		resources = append(resources, Resource{
			Name:          name,
			Aliases:       aliases,
			Kind:          kind,
			ContentBase64: base64.StdEncoding.EncodeToString([]byte(script)),
		})
		name = ""
		aliases = nil
		body.Reset()
		inSection = false
	}

	for _, line := range strings.Split(uncommented, "\n") {
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "// ") || line == "//" {
			continue
		}

		if !inSection {
			if stripped, ok := strings.CutPrefix(line, "/// "); ok {
				name = strings.TrimSpace(stripped)
				inSection = true
			}
			continue
		}

		if stripped, ok := strings.CutPrefix(line, "/// "); ok {
			fields := strings.Fields(stripped)
			if len(fields) >= 2 && fields[0] == "alias" {
				aliases = append(aliases, fields[1])
			}
			continue
		}

		if strings.TrimSpace(line) != "" {
			body.WriteString(strings.TrimSpace(line))
			body.WriteByte('\n')
			continue
		}

		flush()
	}
	flush()

	return resources
}

// RedirectResourceRef names a file backing one $redirect= target and its
// alternate names, as declared in a redirect-engine.js-style asset.
type RedirectResourceRef struct {
	Name    string
	Aliases []string
}

const redirectableResourcesDecl = "const redirectableResources = new Map(["

var (
	mapEndRE        = regexp.MustCompile(`^\s*\]\s*\)`)
	trailingCommaRE = regexp.MustCompile(`,([\]\}])`)
	unquotedFieldRE = regexp.MustCompile(`([\{,])([a-zA-Z][a-zA-Z0-9_]*):`)
)

// ParseRedirectMap extracts the subset of a redirect-engine.js-style file
// between the "const redirectableResources = new Map([" declaration and a
// closing "])" line, repairs it into valid JSON, and returns every entry
// that carries no "params" field (params are not supported downstream).
func ParseRedirectMap(data string) []RedirectResourceRef {
	lines := strings.Split(data, "\n")

	start := -1
	for i, line := range lines {
		if line == redirectableResourcesDecl {
			start = i
			break
		}
	}
	if start == -1 {
		return nil
	}

	var b strings.Builder
	for _, line := range lines[start:] {
		if mapEndRE.MatchString(line) {
			break
		}
		if i := strings.Index(line, "//"); i >= 0 {
			line = line[:i]
		}
		b.WriteString(line)
	}
	jsonish := b.String() + "]"

	if !strings.HasPrefix(jsonish, redirectableResourcesDecl) {
		return nil
	}
	jsonish = jsonish[len(redirectableResourcesDecl)-1:]
	jsonish = strings.ReplaceAll(jsonish, "'", `"`)
	jsonish = stripWhitespace(jsonish)
	jsonish = trailingCommaRE.ReplaceAllString(jsonish, "$1")
	jsonish = unquotedFieldRE.ReplaceAllString(jsonish, `$1"$2":`)

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(jsonish), &raw); err != nil {
		return nil
	}

	var out []RedirectResourceRef
	for _, entry := range raw {
		var pair []json.RawMessage
		if err := json.Unmarshal(entry, &pair); err != nil || len(pair) != 2 {
			continue
		}
		var name string
		if err := json.Unmarshal(pair[0], &name); err != nil {
			continue
		}
		var props struct {
			Alias  json.RawMessage `json:"alias"`
			Params []string        `json:"params"`
		}
		if err := json.Unmarshal(pair[1], &props); err != nil {
			continue
		}
		if props.Params != nil {
			continue
		}
		out = append(out, RedirectResourceRef{Name: name, Aliases: decodeAlias(props.Alias)})
	}
	return out
}

func decodeAlias(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	return nil
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// KindFromExtension drives base64-vs-text normalization for web-accessible
// resource files: text formats get \r stripped before encoding; everything
// else is encoded raw.
func KindFromExtension(name string) ResourceKind {
	switch {
	case strings.HasSuffix(name, ".js"):
		return KindJS
	case strings.HasSuffix(name, ".html"):
		return KindHTML
	case strings.HasSuffix(name, ".txt"):
		return KindPlain
	default:
		return KindBinary
	}
}

// BuildResourceFromFile assembles a Resource for a web-accessible asset
// backing a $redirect= target, normalizing line endings for text kinds.
func BuildResourceFromFile(contents []byte, ref RedirectResourceRef) Resource {
	kind := KindFromExtension(ref.Name)
	var encoded string
	switch kind {
	case KindJS, KindHTML, KindPlain:
		encoded = base64.StdEncoding.EncodeToString([]byte(strings.ReplaceAll(string(contents), "\r", "")))
	default:
		encoded = base64.StdEncoding.EncodeToString(contents)
	}
	return Resource{Name: ref.Name, Aliases: ref.Aliases, Kind: kind, ContentBase64: encoded}
}
