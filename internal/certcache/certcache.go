// Package certcache provides an LRU cache of minted leaf certificates,
// keyed by authority (host[:port]). Minting is CPU-intensive (RSA signing);
// it runs on the goroutine that called Get, and a fixed number of slots
// bounds how many mints are in flight at once, so a handshake storm queues
// for a slot instead of running unbounded concurrent signings.
package certcache

import (
	"crypto/tls"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"privaxy-go/internal/logger"
)

const capacity = 1000

// Minter mints a fresh leaf certificate for a host. *mitm.Issuer satisfies
// this, kept as an interface so tests can substitute a cheap fake.
type Minter interface {
	NewLeaf(host string) (*tls.Certificate, error)
}

// Cache is an LRU of authority → minted leaf certificate. Eviction is
// least-recently-found: every Get touches the entry's recency.
//
// Two concurrent misses for the same authority may both mint; the later
// insert wins and the earlier leaf is simply dropped. Both leaves are
// valid and signed by the same root, so this is a bounded-waste
// optimization, not a correctness issue.
type Cache struct {
	minter Minter
	log    *logger.Logger

	mu  sync.Mutex
	lru *lru.Cache[string, *tls.Certificate]

	mintPool chan struct{} // bounds concurrent blocking mints
}

// New returns a Cache backed by minter, with a pool of mintConcurrency
// goroutine slots available for blocking certificate minting.
func New(minter Minter, log *logger.Logger, mintConcurrency int) *Cache {
	if mintConcurrency < 1 {
		mintConcurrency = 1
	}
	c, err := lru.New[string, *tls.Certificate](capacity)
	if err != nil {
		// Only returns an error for a non-positive size, which capacity
		// never is.
		panic(fmt.Sprintf("certcache: unexpected lru.New error: %v", err))
	}
	return &Cache{
		minter:   minter,
		log:      log,
		lru:      c,
		mintPool: make(chan struct{}, mintConcurrency),
	}
}

// Get returns the leaf certificate for authority, minting one on cache
// miss. Minting happens outside any lock the cache holds, on the calling
// goroutine once it holds one of the mint slots, so the LRU is never
// blocked for longer than a map operation.
func (c *Cache) Get(authority string) (*tls.Certificate, error) {
	c.mu.Lock()
	if leaf, ok := c.lru.Get(authority); ok {
		c.mu.Unlock()
		return leaf, nil
	}
	c.mu.Unlock()

	host := stripPort(authority)

	c.mintPool <- struct{}{}
	leaf, err := c.minter.NewLeaf(host)
	<-c.mintPool
	if err != nil {
		return nil, fmt.Errorf("mint leaf for %s: %w", authority, err)
	}

	c.mu.Lock()
	c.lru.Add(authority, leaf)
	c.mu.Unlock()

	c.log.Debugw("minted leaf certificate", "authority", authority)
	return leaf, nil
}

// TLSConfigFor returns a *tls.Config presenting the cached/minted leaf for
// authority, with no client auth and TLS 1.2 as the floor.
func (c *Cache) TLSConfigFor(authority string) (*tls.Config, error) {
	leaf, err := c.Get(authority)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{*leaf},
	}, nil
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
