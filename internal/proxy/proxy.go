// Package proxy implements the MITM-capable forward proxy: connection-level
// dispatch (CONNECT vs plain HTTP), TLS interception, and per-request
// handling (blocking decisions, upstream forwarding, HTML rewriting).
//
// Traffic flow:
//   - CONNECT to an excluded host: tunneled transparently, no TLS accept.
//   - CONNECT to any other host: TLS-terminated, inner requests served
//     through ProxyServe with scheme=https.
//   - Plain HTTP proxy requests: served through ProxyServe with scheme=http.
package proxy

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"

	"privaxy-go/internal/events"
	"privaxy-go/internal/filterengine"
	"privaxy-go/internal/logger"
	"privaxy-go/internal/statistics"
)

// CertCache is the subset of certcache.Cache the proxy needs.
type CertCache interface {
	TLSConfigFor(authority string) (*tls.Config, error)
}

// ExclusionMatcher is the subset of exclusions.Matcher the proxy needs.
type ExclusionMatcher interface {
	Contains(host string) bool
}

// Requester is the subset of filterengine.Requester the proxy needs; it
// also satisfies rewriter.CosmeticResolver.
type Requester interface {
	IsBlocked(url, referer string) (bool, filterengine.NetworkResult)
	Cosmetic(url string, ids, classes []string) filterengine.CosmeticResult
}

// Server dispatches accepted connections and serves individual requests.
type Server struct {
	log        *logger.Logger
	certCache  CertCache
	exclusions ExclusionMatcher
	requester  Requester
	stats      *statistics.Statistics
	events     *events.Hub
	transport  *http.Transport
}

// New returns a Server ready to be used as an http.Handler for the proxy
// listener.
func New(log *logger.Logger, certCache CertCache, excl ExclusionMatcher, requester Requester, stats *statistics.Statistics, hub *events.Hub) *Server {
	return &Server{
		log:        log,
		certCache:  certCache,
		exclusions: excl,
		requester:  requester,
		stats:      stats,
		events:     hub,
		transport:  newUpstreamTransport(),
	}
}

func newUpstreamTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   20 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// We request our own Accept-Encoding and decode gzip/deflate
		// ourselves (see decodeBody in serve.go) so the transport must not
		// also negotiate and strip compression behind our back.
		DisableCompression:    true,
		MaxIdleConns:          200,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// ServeHTTP is the entry point for every accepted connection's first
// request; it is MitmDispatch (spec component), named ServeHTTP so Server
// satisfies http.Handler directly.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.MitmDispatch(w, r)
}

// --- shared header helpers ---

var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailers", "Transfer-Encoding", "Upgrade", "Proxy-Connection",
}

func removeHopByHop(h http.Header) {
	for _, v := range hopByHopHeaders {
		h.Del(v)
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func stripPort(authority string) string {
	for i := len(authority) - 1; i >= 0; i-- {
		switch authority[i] {
		case ']':
			return authority
		case ':':
			return authority[:i]
		}
	}
	return authority
}
