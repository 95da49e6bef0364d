// Package assets embeds the HTML response fragments and adblock resource
// bundle (scriptlets + redirectable resources) shipped with the binary,
// and assembles them into the shapes internal/filterengine and
// internal/proxy consume.
package assets

import (
	_ "embed"
	"strings"

	"privaxy-go/internal/filterengine"
)

//go:embed data/head.html
var headHTML string

//go:embed data/blocked.html
var blockedHTML string

//go:embed data/error.html
var errorHTML string

//go:embed data/scriptlets.js
var scriptletsJS string

//go:embed data/redirect-engine.js
var redirectEngineJS string

// transparentGIF is the bundled 1x1 transparent pixel served for
// $redirect=1x1.gif matches.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// webAccessibleResources is the set of static asset bytes backing each
// non-scriptlet redirect-engine.js entry that survives the params filter.
// A production deployment would serve these from a bundled resources
// directory; the handful needed for the bundled redirect-engine.js are
// inlined here.
var webAccessibleResources = map[string][]byte{
	"1x1.gif":    transparentGIF,
	"noopjs":     []byte("(function(){})();\n"),
	"noopframe":  []byte("<!DOCTYPE html><html><head></head><body></body></html>"),
}

// RenderBlocked returns the full HTML body for a blocked-request response,
// naming the matching filter (or "No information" if none was recorded).
func RenderBlocked(matchingFilter string) []byte {
	if matchingFilter == "" {
		matchingFilter = "No information"
	}
	body := strings.ReplaceAll(blockedHTML, "#{matching_filter}#", matchingFilter)
	return []byte(headHTML + body)
}

// RenderError returns the full HTML body for an upstream-failure response,
// quoting reason.
func RenderError(reason string) []byte {
	body := strings.ReplaceAll(errorHTML, "#{request_error_reason}#", reason)
	return []byte(headHTML + body)
}

// Bootstrap parses the bundled scriptlets and redirect map into the
// Resource set internal/filterengine.NewEngine expects, skipping any
// redirect-map entry this binary doesn't carry bytes for.
func Bootstrap() []filterengine.Resource {
	resources := filterengine.ParseScriptlets(scriptletsJS)

	for _, ref := range filterengine.ParseRedirectMap(redirectEngineJS) {
		contents, ok := webAccessibleResources[ref.Name]
		if !ok {
			continue
		}
		resources = append(resources, filterengine.BuildResourceFromFile(contents, ref))
	}

	return resources
}
