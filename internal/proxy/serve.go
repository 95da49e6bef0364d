package proxy

import (
	"compress/flate"
	"compress/gzip"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"privaxy-go/internal/assets"
	"privaxy-go/internal/events"
	"privaxy-go/internal/filterengine"
	"privaxy-go/internal/proxy/proxyerr"
	"privaxy-go/internal/rewriter"
)

// ProxyServe handles a single plaintext HTTP request after connection-level
// decisions (CONNECT vs plain, TLS accept) have already been made. scheme
// is "http" or "https" depending on which listener accepted the request.
func (s *Server) ProxyServe(w http.ResponseWriter, r *http.Request, scheme string) {
	target, err := s.absoluteURL(r, scheme)
	if err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if r.Header.Get("Upgrade") != "" {
		if upErr := s.doUpgrade(w, r, target); upErr != nil {
			s.log.Warnw("upgrade failed", "url", target.String(), "err", upErr)
			http.Error(w, "upgrade failed", http.StatusBadGateway)
		}
		return
	}

	s.stats.IncrementTopClient(clientIPOf(r))

	referer := r.Header.Get("Referer")
	if referer == "" {
		referer = target.String()
	}

	blocked, result := s.requester.IsBlocked(target.String(), referer)
	s.events.Publish(events.Event{
		Now:              time.Now().UTC(),
		Method:           r.Method,
		URL:              target.String(),
		IsRequestBlocked: blocked,
	})

	if blocked {
		s.respondBlocked(w, target, result)
		return
	}

	s.forward(w, r, target)
}

func (s *Server) absoluteURL(r *http.Request, scheme string) (*url.URL, error) {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing authority", proxyerr.ErrBadRequest)
	}
	return &url.URL{
		Scheme:   scheme,
		Host:     host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}, nil
}

func (s *Server) respondBlocked(w http.ResponseWriter, target *url.URL, result filterengine.NetworkResult) {
	s.stats.IncrementBlockedRequests()
	s.stats.IncrementTopBlockedPath(fmt.Sprintf("%s://%s%s", target.Scheme, target.Host, target.Path))

	if result.Redirect != nil {
		w.WriteHeader(http.StatusOK)
		w.Write(result.Redirect) //nolint:errcheck // client hung up is not actionable
		return
	}

	body := assets.RenderBlocked(result.Filter)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	w.Write(body) //nolint:errcheck // client hung up is not actionable
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, target *url.URL) {
	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, target.String(), r.Body)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Connection")
	outReq.Header.Del("Host")
	outReq.Header.Set("Accept-Encoding", "gzip, deflate")
	outReq.ContentLength = r.ContentLength

	resp, err := s.transport.RoundTrip(outReq)
	if err != nil {
		s.respondUpstreamError(w, err)
		return
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, keptEncoding := decodeBody(resp)
	// A body left in an encoding we cannot decode (e.g. br) is passed
	// through untouched rather than rewritten.
	isHTML := keptEncoding == "" && strings.Contains(resp.Header.Get("Content-Type"), "text/html")

	removeHopByHop(resp.Header)
	if keptEncoding == "" {
		resp.Header.Del("Content-Encoding")
	}
	resp.Header.Del("Content-Length") // body length changes once decoded or rewritten
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	s.stats.IncrementProxiedRequests()

	if isHTML {
		modified, rwErr := rewriter.Rewrite(w, body, target.String(), s.requester)
		if rwErr != nil {
			s.log.Debugw("html rewrite aborted, client likely disconnected", "url", target.String(), "err", rwErr)
			return
		}
		if modified {
			s.stats.IncrementModifiedResponses()
		}
		return
	}

	io.Copy(w, body) //nolint:errcheck // client disconnect during streaming is swallowed
}

func (s *Server) respondUpstreamError(w http.ResponseWriter, err error) {
	s.log.Warnw("upstream request failed", "err", err)
	body := assets.RenderError(err.Error())
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusBadGateway)
	w.Write(body) //nolint:errcheck // client hung up is not actionable
}

// decodeBody transparently decodes a gzip or deflate response body so the
// HTML rewriter (and raw passthrough) see the same bytes regardless of
// upstream compression. keptEncoding is empty when the body was decoded
// (caller must then strip Content-Encoding); otherwise it names the
// encoding that was left untouched (e.g. br, which the standard library
// has no decoder for).
func decodeBody(resp *http.Response) (body io.Reader, keptEncoding string) {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return resp.Body, resp.Header.Get("Content-Encoding")
		}
		return gz, ""
	case "deflate":
		return flate.NewReader(resp.Body), ""
	default:
		return resp.Body, resp.Header.Get("Content-Encoding")
	}
}

func clientIPOf(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
