// Package rewriter streams an HTML response body through unchanged while
// collecting the id/class attributes seen along the way, then appends a
// cosmetic-filtering trailer once the body ends.
package rewriter

import (
	"bytes"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"privaxy-go/internal/filterengine"
)

// CosmeticResolver is the subset of EngineRequester the rewriter needs;
// satisfied by *filterengine.Requester.
type CosmeticResolver interface {
	Cosmetic(url string, ids, classes []string) filterengine.CosmeticResult
}

var whitespaceRunRE = regexp.MustCompile(`\s+`)

// Rewrite copies src to dst byte-for-byte, token by token (never buffering
// the whole document), tracking every distinct id attribute value and
// every space-split class token. At EOF it resolves cosmetic rules for
// pageURL and appends a single trailer with the hide/style/script
// modifications. It reports via modified whether any modification fired,
// so the caller can bump the modified-responses counter exactly once.
func Rewrite(dst io.Writer, src io.Reader, pageURL string, resolver CosmeticResolver) (modified bool, err error) {
	z := html.NewTokenizer(src)
	ids := map[string]struct{}{}
	classes := map[string]struct{}{}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if tkErr := z.Err(); tkErr != io.EOF {
				return modified, tkErr
			}
			break
		}

		if _, werr := dst.Write(z.Raw()); werr != nil {
			return modified, werr
		}

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			collectAttrs(z, ids, classes)
		}
	}

	result := resolver.Cosmetic(pageURL, setToSlice(ids), setToSlice(classes))
	trailer, fired := buildTrailer(result)
	if trailer != "" {
		if _, werr := dst.Write([]byte(trailer)); werr != nil {
			return modified, werr
		}
	}
	return fired, nil
}

func collectAttrs(z *html.Tokenizer, ids, classes map[string]struct{}) {
	for {
		key, val, more := z.TagAttr()
		switch string(key) {
		case "id":
			if v := strings.TrimSpace(string(val)); v != "" {
				ids[v] = struct{}{}
			}
		case "class":
			for _, token := range strings.Fields(whitespaceRunRE.ReplaceAllString(string(val), " ")) {
				classes[token] = struct{}{}
			}
		}
		if !more {
			return
		}
	}
}

func setToSlice(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// buildTrailer renders the exact format cosmetic results are appended as.
// The <style> wrapper is unconditional, even when neither hidden selectors
// nor style rules apply, matching the original html_rewriter's per-response
// trailer; only its inner content and the <script> block are conditional.
// fired reports whether any of the three modification kinds is non-empty,
// independent of the (now always-written) trailer string.
func buildTrailer(result filterengine.CosmeticResult) (trailer string, fired bool) {
	hasHidden := len(result.HiddenSelectors) > 0
	hasStyle := len(result.StyleSelectors) > 0
	hasScript := result.InjectedScript != ""

	var b bytes.Buffer
	b.WriteString("<!-- privaxy proxy -->\n<style>")
	if hasHidden {
		fmt.Fprintf(&b, "%s { display: none !important;} \n", strings.Join(result.HiddenSelectors, ", "))
	}
	for _, sel := range sortedKeys(result.StyleSelectors) {
		fmt.Fprintf(&b, "%s { %s }\n", sel, strings.Join(result.StyleSelectors[sel], "; "))
	}
	b.WriteString("</style>\n<!-- privaxy proxy -->\n")

	if hasScript {
		b.WriteString("<!-- Privaxy proxy -->\n")
		fmt.Fprintf(&b, "<script type=\"application/javascript\">%s</script>\n", result.InjectedScript)
		b.WriteString("<!-- privaxy proxy -->\n")
	}
	return b.String(), hasHidden || hasStyle || hasScript
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
