package certcache

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"privaxy-go/internal/logger"
)

// fakeMinter mints trivial self-signed certs and counts calls, so tests
// can assert on hit/miss behavior without real RSA signing cost.
type fakeMinter struct {
	calls atomic.Int64
}

func (f *fakeMinter) NewLeaf(host string) (*tls.Certificate, error) {
	f.calls.Add(1)
	priv, err := rsa.GenerateKey(rand.Reader, 512) // weak key: test speed only
	if err != nil {
		return nil, err
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(time.Now().UnixNano()),
		Subject:      pkix.Name{CommonName: host},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv)
	if err != nil {
		return nil, err
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, err
	}
	return &tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv, Leaf: leaf}, nil
}

func TestGet_CacheHitAvoidsRemint(t *testing.T) {
	m := &fakeMinter{}
	c := New(m, logger.New("certcache", "error"), 2)

	if _, err := c.Get("example.com:443"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := c.Get("example.com:443"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got := m.calls.Load(); got != 1 {
		t.Errorf("expected exactly 1 mint for a repeated authority, got %d", got)
	}
}

func TestGet_DistinctAuthoritiesMintSeparately(t *testing.T) {
	m := &fakeMinter{}
	c := New(m, logger.New("certcache", "error"), 2)

	if _, err := c.Get("a.example.com:443"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get("b.example.com:443"); err != nil {
		t.Fatal(err)
	}
	if got := m.calls.Load(); got != 2 {
		t.Errorf("expected 2 mints for 2 distinct authorities, got %d", got)
	}
}

func TestGet_ConcurrentMissesBothSucceed(t *testing.T) {
	m := &fakeMinter{}
	c := New(m, logger.New("certcache", "error"), 4)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get("race.example.com:443"); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent Get failed: %v", err)
	}
	// Correctness (not a specific mint count) is the invariant under races:
	// every call must return a valid, usable certificate.
	if _, err := c.Get("race.example.com:443"); err != nil {
		t.Errorf("final Get failed: %v", err)
	}
}

func TestTLSConfigFor(t *testing.T) {
	m := &fakeMinter{}
	c := New(m, logger.New("certcache", "error"), 1)

	cfg, err := c.TLSConfigFor("example.com:443")
	if err != nil {
		t.Fatalf("TLSConfigFor: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Fatalf("expected 1 certificate in config, got %d", len(cfg.Certificates))
	}
}

func TestStripPort(t *testing.T) {
	cases := map[string]string{
		"example.com:443": "example.com",
		"example.com":     "example.com",
		"[::1]:443":       "[::1]",
	}
	for in, want := range cases {
		if got := stripPort(in); got != want {
			t.Errorf("stripPort(%q) = %q, want %q", in, got, want)
		}
	}
}
