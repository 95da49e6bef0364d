package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"privaxy-go/internal/proxy/proxyerr"
)

// MitmDispatch is the entry point for every accepted connection's first
// request: CONNECT requests are either tunneled transparently (excluded
// hosts) or TLS-intercepted and re-dispatched through ProxyServe; plain
// HTTP proxy requests go straight to ProxyServe with scheme=http.
func (s *Server) MitmDispatch(w http.ResponseWriter, r *http.Request) {
	authority := r.Host
	if authority == "" {
		authority = r.URL.Host
	}
	if authority == "" {
		http.Error(w, "bad request: missing authority", http.StatusBadRequest)
		return
	}

	if r.Method != http.MethodConnect {
		s.ProxyServe(w, r, "http")
		return
	}

	s.handleConnect(w, r, authority)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request, authority string) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}

	sessionID := uuid.NewString()
	host := stripPort(authority)

	if s.exclusions.Contains(host) {
		s.tunnelExcluded(w, hijacker, authority, sessionID)
		return
	}

	s.interceptTLS(w, r, hijacker, authority, sessionID)
}

// tunnelExcluded opens a raw TCP connection to authority and bridges it
// with the hijacked client connection, without ever attempting a TLS
// accept. Used for hosts that pin certificates or otherwise reject a
// locally-signed leaf. sessionID correlates this tunnel's log lines with
// any later log lines for the same CONNECT.
func (s *Server) tunnelExcluded(w http.ResponseWriter, hijacker http.Hijacker, authority, sessionID string) {
	destConn, err := net.DialTimeout("tcp", authority, 20*time.Second)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot connect to %s: %v", authority, err), http.StatusBadGateway)
		return
	}
	defer destConn.Close() //nolint:errcheck // best-effort close

	w.WriteHeader(http.StatusOK)
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.log.Warnw("hijack failed", "session", sessionID, "authority", authority, "err", err)
		return
	}
	defer clientConn.Close() //nolint:errcheck // best-effort close

	s.log.Debugw("excluded host, tunneling transparently", "session", sessionID, "authority", authority)
	bridge(clientConn, destConn)
}

// interceptTLS mints (or reuses) a leaf certificate for authority, accepts
// a TLS handshake from the client presenting it, and serves HTTP/1.1 over
// the decrypted connection, routing every inner request through
// ProxyServe with scheme=https. A client handshake failure is logged and
// the connection dropped; the host is never auto-added to exclusions.
// sessionID correlates the handshake and intercept log lines of this
// CONNECT; requests later served over the connection are logged without it.
func (s *Server) interceptTLS(w http.ResponseWriter, r *http.Request, hijacker http.Hijacker, authority, sessionID string) {
	tlsConfig, err := s.certCache.TLSConfigFor(authority)
	if err != nil {
		http.Error(w, fmt.Sprintf("cannot mint certificate for %s: %v", authority, err), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusOK)
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		s.log.Warnw("hijack failed", "session", sessionID, "authority", authority, "err", err)
		return
	}

	tlsConn := tls.Server(clientConn, tlsConfig)
	if hsErr := tlsConn.HandshakeContext(r.Context()); hsErr != nil {
		s.log.Warnw("client TLS handshake failed; consider adding this host to exclusions",
			"session", sessionID, "authority", authority,
			"err", fmt.Errorf("%w: %v", proxyerr.ErrInterceptionUnsupported, hsErr))
		clientConn.Close() //nolint:errcheck // best-effort close
		return
	}
	s.log.Debugw("intercepting TLS connection", "session", sessionID, "authority", authority)

	innerServer := &http.Server{
		Handler: http.HandlerFunc(func(w2 http.ResponseWriter, r2 *http.Request) {
			s.ProxyServe(w2, r2, "https")
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	innerServer.Serve(newSingleConnListener(tlsConn)) //nolint:errcheck // ends when the connection closes
}

// doUpgrade implements the dual-upgrade procedure: dial upstream (TCP or
// TLS depending on target's scheme), forward the original request line and
// headers, and if upstream switches protocols, hijack the client
// connection, mirror the upstream's status line and headers, then bridge
// both connections bidirectionally. If upstream does not switch protocols,
// its response is relayed normally instead.
func (s *Server) doUpgrade(w http.ResponseWriter, r *http.Request, target *url.URL) error {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		return fmt.Errorf("%w: upgrade requires a hijackable connection", proxyerr.ErrUpstreamFailure)
	}

	upstreamConn, err := dialUpstream(r.Context(), target)
	if err != nil {
		return fmt.Errorf("%w: dial upstream for upgrade: %v", proxyerr.ErrUpstreamFailure, err)
	}
	defer upstreamConn.Close() //nolint:errcheck // best-effort close

	if err := writeUpgradeRequest(upstreamConn, r, target); err != nil {
		return fmt.Errorf("%w: forward upgrade request: %v", proxyerr.ErrUpstreamFailure, err)
	}

	upstreamBR := bufio.NewReader(upstreamConn)
	resp, err := http.ReadResponse(upstreamBR, r)
	if err != nil {
		return fmt.Errorf("%w: read upstream upgrade response: %v", proxyerr.ErrUpstreamFailure, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusSwitchingProtocols {
		copyHeader(w.Header(), resp.Header)
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body) //nolint:errcheck // client disconnect is swallowed
		return nil
	}

	clientConn, clientBR, err := hijacker.Hijack()
	if err != nil {
		return fmt.Errorf("%w: hijack client connection: %v", proxyerr.ErrUpstreamFailure, err)
	}
	defer clientConn.Close() //nolint:errcheck // best-effort close

	if err := writeSwitchingResponse(clientConn, resp); err != nil {
		return fmt.Errorf("%w: mirror switching response: %v", proxyerr.ErrUpstreamFailure, err)
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstreamConn, clientBR); done <- struct{}{} }() //nolint:errcheck
	go func() { io.Copy(clientConn, upstreamBR); done <- struct{}{} }() //nolint:errcheck
	<-done
	return nil
}

func dialUpstream(ctx context.Context, target *url.URL) (net.Conn, error) {
	host := target.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		if target.Scheme == "https" {
			host = net.JoinHostPort(host, "443")
		} else {
			host = net.JoinHostPort(host, "80")
		}
	}

	dialer := &net.Dialer{Timeout: 20 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return nil, err
	}

	if target.Scheme != "https" {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{ServerName: stripPort(target.Host)})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close() //nolint:errcheck // best-effort close
		return nil, err
	}
	return tlsConn, nil
}

func writeUpgradeRequest(conn net.Conn, r *http.Request, target *url.URL) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", r.Method, r.URL.RequestURI())

	headers := r.Header.Clone()
	headers.Set("Host", target.Host)
	headers.Del("Proxy-Connection")
	if err := headers.Write(&b); err != nil {
		return err
	}
	b.WriteString("\r\n")

	_, err := conn.Write([]byte(b.String()))
	return err
}

func writeSwitchingResponse(conn net.Conn, resp *http.Response) error {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", resp.StatusCode, http.StatusText(resp.StatusCode))
	if err := resp.Header.Write(&b); err != nil {
		return err
	}
	b.WriteString("\r\n")

	_, err := conn.Write([]byte(b.String()))
	return err
}

func bridge(a, b net.Conn) {
	done := make(chan struct{}, 2)
	go func() { io.Copy(a, b); done <- struct{}{} }() //nolint:errcheck
	go func() { io.Copy(b, a); done <- struct{}{} }() //nolint:errcheck
	<-done
}

// singleConnListener adapts a single already-accepted net.Conn (the
// hijacked, now TLS-wrapped client connection) into a net.Listener so
// http.Server.Serve can run its normal HTTP/1.1 keep-alive/upgrade loop
// over it.
type singleConnListener struct {
	conn net.Conn
	once sync.Once
	done chan struct{}
}

func newSingleConnListener(conn net.Conn) *singleConnListener {
	return &singleConnListener{conn: conn, done: make(chan struct{})}
}

func (l *singleConnListener) Accept() (net.Conn, error) {
	var c net.Conn
	l.once.Do(func() { c = l.conn })
	if c != nil {
		return c, nil
	}
	<-l.done
	return nil, net.ErrClosed
}

func (l *singleConnListener) Close() error {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
	return nil
}

func (l *singleConnListener) Addr() net.Addr { return l.conn.LocalAddr() }
