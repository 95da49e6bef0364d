// Command proxyd is the Privaxy MITM forward proxy.
//
// It terminates TLS on behalf of the client, evaluates every request and
// response against an EasyList-style filter set, blocks matched requests,
// injects cosmetic hiding rules into HTML responses, and exposes a
// management API for statistics, exclusions, and filter-list control.
//
// Point a client at the proxy port and trust the generated root CA to see
// traffic intercepted and filtered:
//
//	export HTTP_PROXY=http://localhost:8100
//	export HTTPS_PROXY=http://localhost:8100
//
// Usage:
//
//	./proxyd
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"privaxy-go/internal/assets"
	"privaxy-go/internal/certcache"
	"privaxy-go/internal/config"
	"privaxy-go/internal/events"
	"privaxy-go/internal/exclusions"
	"privaxy-go/internal/filterengine"
	"privaxy-go/internal/lifecycle"
	"privaxy-go/internal/logger"
	"privaxy-go/internal/management"
	"privaxy-go/internal/mitm"
	"privaxy-go/internal/proxy"
	"privaxy-go/internal/statistics"
)

const mintConcurrency = 8
const filterQueueDepth = 256

func main() {
	cfg := config.Load()
	log := logger.New("proxyd", cfg.LogLevel)

	printBanner(cfg)

	issuer, err := mitm.LoadOrGenerate(log.Named("mitm"), cfg.CACertFile, cfg.CAKeyFile)
	if err != nil {
		log.Fatalw("load or generate root CA", "err", err)
	}
	certs := certcache.New(issuer, log.Named("certcache"), mintConcurrency)

	excl := exclusions.New()
	excl.Replace(cfg.Exclusions)

	var blockingDisabled atomic.Bool
	worker := filterengine.NewWorker(log.Named("filterengine"), assets.Bootstrap(), &blockingDisabled, filterQueueDepth)
	go worker.Run()
	requester := filterengine.NewRequester(worker)

	stats := statistics.New()
	hub := events.NewHub()

	lc, err := lifecycle.New(log.Named("lifecycle"), http.DefaultClient, requester, excl, cfg.FiltersCacheDir, cfg.BaseFiltersURL)
	if err != nil {
		log.Fatalw("open filter lifecycle", "err", err)
	}
	defer lc.Close() //nolint:errcheck // best-effort close
	ctx, cancelLifecycle := context.WithCancel(context.Background())
	defer cancelLifecycle()
	go lc.Run(ctx, initialConfiguration(cfg))

	mgmt := management.New(log.Named("management"), cfg.ListenAddress, cfg.ManagementPort, cfg.ManagementToken, stats, excl, hub, lc)
	go func() {
		if err := mgmt.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("management server", "err", err)
		}
	}()

	proxyServer := proxy.New(log.Named("proxy"), certs, excl, requester, stats, hub)
	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           proxyServer,
		ReadHeaderTimeout: 10 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Infow("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("shutdown error", "err", err)
		}
	}()

	log.Infow("listening", "addr", cfg.ListenAddress)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalw("proxy server", "err", err)
	}
}

func initialConfiguration(cfg *config.Config) lifecycle.Configuration {
	filters := make([]lifecycle.Filter, 0, len(cfg.InitialFilters))
	for _, seed := range cfg.InitialFilters {
		filters = append(filters, lifecycle.Filter{
			Enabled:  seed.EnabledByDefault,
			Title:    seed.Title,
			Group:    lifecycle.FilterGroup(seed.Group),
			FileName: seed.FileName,
		})
	}
	return lifecycle.Configuration{
		Exclusions:    cfg.Exclusions,
		CustomFilters: cfg.CustomFilters,
		Filters:       filters,
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║                      Privaxy                          ║
╚══════════════════════════════════════════════════════╝
  Proxy address    : %s
  Management port  : %d
  Root CA          : %s
  Filters cache    : %s
  Filters source   : %s

  Point clients here:
    export HTTP_PROXY=http://%s
    export HTTPS_PROXY=http://%s

  Check status:
    curl http://localhost:%d/status
`, cfg.ListenAddress, cfg.ManagementPort, cfg.CACertFile, cfg.FiltersCacheDir, cfg.BaseFiltersURL,
		cfg.ListenAddress, cfg.ListenAddress, cfg.ManagementPort)
}
