package filterengine

import "testing"

func TestCheckNetworkURL_BlocksDomainAnchored(t *testing.T) {
	e := NewEngine([]string{"||ads.example.com^"}, nil)
	result := e.CheckNetworkURL("https://ads.example.com/pixel.gif", "https://news.example.org")
	if !result.Matched {
		t.Fatalf("expected match, got %+v", result)
	}
}

func TestCheckNetworkURL_DoesNotBlockUnrelatedHost(t *testing.T) {
	e := NewEngine([]string{"||ads.example.com^"}, nil)
	result := e.CheckNetworkURL("https://cdn.example.org/lib.js", "https://news.example.org")
	if result.Matched {
		t.Fatalf("expected no match, got %+v", result)
	}
}

func TestCheckNetworkURL_ExceptionOverridesBlock(t *testing.T) {
	e := NewEngine([]string{
		"||ads.example.com^",
		"@@||ads.example.com/allowed.gif",
	}, nil)
	result := e.CheckNetworkURL("https://ads.example.com/allowed.gif", "https://news.example.org")
	if result.Matched {
		t.Fatalf("expected exception to suppress block, got %+v", result)
	}
}

func TestCheckNetworkURL_ImportantBeatsException(t *testing.T) {
	e := NewEngine([]string{
		"||ads.example.com^$important",
		"@@||ads.example.com^",
	}, nil)
	result := e.CheckNetworkURL("https://ads.example.com/x.gif", "https://news.example.org")
	if !result.Matched {
		t.Fatalf("expected $important block to win, got %+v", result)
	}
}

func TestCheckNetworkURL_DomainOptionRestrictsScope(t *testing.T) {
	e := NewEngine([]string{"||ads.example.com^$domain=shop.example.com"}, nil)

	blocked := e.CheckNetworkURL("https://ads.example.com/x.gif", "https://shop.example.com/cart")
	if !blocked.Matched {
		t.Errorf("expected block on matching domain option, got %+v", blocked)
	}

	notBlocked := e.CheckNetworkURL("https://ads.example.com/x.gif", "https://news.example.org/article")
	if notBlocked.Matched {
		t.Errorf("expected no block outside domain option scope, got %+v", notBlocked)
	}
}

func TestCheckNetworkURL_ThirdPartyOption(t *testing.T) {
	e := NewEngine([]string{"||tracker.example.com^$third-party"}, nil)

	thirdParty := e.CheckNetworkURL("https://tracker.example.com/beacon.js", "https://news.example.org/article")
	if !thirdParty.Matched {
		t.Errorf("expected third-party request to match, got %+v", thirdParty)
	}

	firstParty := e.CheckNetworkURL("https://tracker.example.com/beacon.js", "https://tracker.example.com/page")
	if firstParty.Matched {
		t.Errorf("expected same-site request to be exempt from $third-party, got %+v", firstParty)
	}
}

func TestCheckNetworkURL_Redirect(t *testing.T) {
	resources := []Resource{{Name: "1x1.gif", Kind: KindBinary, ContentBase64: "AQID"}} // base64("\x01\x02\x03")
	e := NewEngine([]string{"||tracker.example.com/pixel.gif$redirect=1x1.gif"}, resources)

	result := e.CheckNetworkURL("https://tracker.example.com/pixel.gif", "https://news.example.org")
	if !result.Matched {
		t.Fatalf("expected match, got %+v", result)
	}
	if len(result.Redirect) != 3 {
		t.Errorf("expected decoded redirect resource bytes, got %v", result.Redirect)
	}
}

func TestCosmeticResourcesFor_DomainScopedHide(t *testing.T) {
	e := NewEngine([]string{"news.example.org##.ad-banner"}, nil)
	result := e.CosmeticResourcesFor("https://news.example.org/article", nil, nil)
	if len(result.HiddenSelectors) != 1 || result.HiddenSelectors[0] != ".ad-banner" {
		t.Fatalf("expected .ad-banner hidden, got %+v", result.HiddenSelectors)
	}

	other := e.CosmeticResourcesFor("https://other.example.com/page", nil, nil)
	if len(other.HiddenSelectors) != 0 {
		t.Errorf("expected no hides on unrelated domain, got %+v", other.HiddenSelectors)
	}
}

func TestCosmeticResourcesFor_ExceptionSuppressesHide(t *testing.T) {
	e := NewEngine([]string{
		"##.ad-banner",
		"news.example.org#@#.ad-banner",
	}, nil)

	onExcludedDomain := e.CosmeticResourcesFor("https://news.example.org/article", nil, []string{"ad-banner"})
	for _, sel := range onExcludedDomain.HiddenSelectors {
		if sel == ".ad-banner" {
			t.Errorf("expected exception to suppress .ad-banner on news.example.org")
		}
	}

	elsewhere := e.CosmeticResourcesFor("https://other.example.com/page", nil, []string{"ad-banner"})
	found := false
	for _, sel := range elsewhere.HiddenSelectors {
		if sel == ".ad-banner" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected generic .ad-banner to still apply elsewhere, got %+v", elsewhere.HiddenSelectors)
	}
}

func TestCosmeticResourcesFor_GenerichideSuppressesGenericOnly(t *testing.T) {
	e := NewEngine([]string{
		"##.generic-ad",
		"news.example.org##.specific-ad",
		"||news.example.org^$generichide",
	}, nil)

	result := e.CosmeticResourcesFor("https://news.example.org/article", nil, []string{"generic-ad"})
	for _, sel := range result.HiddenSelectors {
		if sel == ".generic-ad" {
			t.Errorf("expected generichide to suppress the generic selector")
		}
	}
	found := false
	for _, sel := range result.HiddenSelectors {
		if sel == ".specific-ad" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected domain-scoped selector to survive generichide")
	}
}

func TestCosmeticResourcesFor_StyleProcedural(t *testing.T) {
	e := NewEngine([]string{"news.example.org##.promo:style(display: none)"}, nil)
	result := e.CosmeticResourcesFor("https://news.example.org/article", nil, nil)
	decls, ok := result.StyleSelectors[".promo"]
	if !ok || decls[0] != "display: none" {
		t.Fatalf("expected style selector parsed, got %+v", result.StyleSelectors)
	}
}
