package rewriter

import (
	"bytes"
	"strings"
	"testing"

	"privaxy-go/internal/filterengine"
)

type fakeResolver struct {
	result       filterengine.CosmeticResult
	gotURL       string
	gotIDs       []string
	gotClasses   []string
}

func (f *fakeResolver) Cosmetic(url string, ids, classes []string) filterengine.CosmeticResult {
	f.gotURL = url
	f.gotIDs = ids
	f.gotClasses = classes
	return f.result
}

func TestRewrite_PassesBodyThroughUnchanged(t *testing.T) {
	body := `<html><body><div id="main" class="foo bar">hello</div></body></html>`
	resolver := &fakeResolver{}

	var out bytes.Buffer
	_, err := Rewrite(&out, strings.NewReader(body), "https://example.com", resolver)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.HasPrefix(out.String(), body) {
		t.Errorf("expected body preserved verbatim as a prefix, got %q", out.String())
	}
}

func TestRewrite_CollectsIDsAndClasses(t *testing.T) {
	body := `<div id="main" class="foo  bar"><span id="inner" class="foo">x</span></div>`
	resolver := &fakeResolver{}

	var out bytes.Buffer
	if _, err := Rewrite(&out, strings.NewReader(body), "https://example.com", resolver); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	wantIDs := map[string]bool{"main": true, "inner": true}
	for _, id := range resolver.gotIDs {
		delete(wantIDs, id)
	}
	if len(wantIDs) != 0 {
		t.Errorf("missing ids: %v (got %v)", wantIDs, resolver.gotIDs)
	}

	wantClasses := map[string]bool{"foo": true, "bar": true}
	for _, c := range resolver.gotClasses {
		delete(wantClasses, c)
	}
	if len(wantClasses) != 0 {
		t.Errorf("missing classes (whitespace collapse failed?): %v (got %v)", wantClasses, resolver.gotClasses)
	}
}

func TestRewrite_EmptyStyleTrailerWhenNothingFires(t *testing.T) {
	resolver := &fakeResolver{result: filterengine.CosmeticResult{StyleSelectors: map[string][]string{}}}

	var out bytes.Buffer
	modified, err := Rewrite(&out, strings.NewReader("<p>hi</p>"), "https://example.com", resolver)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if modified {
		t.Error("expected modified=false when no cosmetic result fired")
	}
	got := out.String()
	if !strings.Contains(got, "<!-- privaxy proxy -->\n<style></style>\n<!-- privaxy proxy -->\n") {
		t.Errorf("expected an empty-but-present <style> trailer, got %q", got)
	}
	if strings.Contains(got, "<script") {
		t.Errorf("expected no script block, got %q", got)
	}
}

func TestRewrite_HiddenSelectorsTrailer(t *testing.T) {
	resolver := &fakeResolver{result: filterengine.CosmeticResult{
		HiddenSelectors: []string{".ad", "#banner"},
		StyleSelectors:  map[string][]string{},
	}}

	var out bytes.Buffer
	modified, err := Rewrite(&out, strings.NewReader("<p>hi</p>"), "https://example.com", resolver)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !modified {
		t.Error("expected modified=true")
	}
	got := out.String()
	if !strings.Contains(got, ".ad, #banner { display: none !important;}") {
		t.Errorf("expected hidden selector rule in trailer, got %q", got)
	}
}

func TestRewrite_InjectedScriptTrailer(t *testing.T) {
	resolver := &fakeResolver{result: filterengine.CosmeticResult{
		StyleSelectors: map[string][]string{},
		InjectedScript: "console.log('x')",
	}}

	var out bytes.Buffer
	modified, err := Rewrite(&out, strings.NewReader("<p>hi</p>"), "https://example.com", resolver)
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !modified {
		t.Error("expected modified=true")
	}
	if !strings.Contains(out.String(), `<script type="application/javascript">console.log('x')</script>`) {
		t.Errorf("expected injected script in trailer, got %q", out.String())
	}
}

func TestRewrite_PassesPageURLThrough(t *testing.T) {
	resolver := &fakeResolver{result: filterengine.CosmeticResult{StyleSelectors: map[string][]string{}}}
	var out bytes.Buffer
	if _, err := Rewrite(&out, strings.NewReader("<p>hi</p>"), "https://example.com/page", resolver); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if resolver.gotURL != "https://example.com/page" {
		t.Errorf("expected page URL passed through, got %q", resolver.gotURL)
	}
}
