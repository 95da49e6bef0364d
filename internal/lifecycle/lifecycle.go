// Package lifecycle maintains the currently-applied filter configuration:
// loading cached filter lists on startup, refreshing them hourly, and
// reacting to configuration changes pushed from the management API.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"privaxy-go/internal/logger"
)

const filtersBucket = "filters"

// FilterGroup categorizes a filter list for display purposes in a
// management UI; it carries no matching semantics.
type FilterGroup string

const (
	GroupDefault  FilterGroup = "default"
	GroupRegional FilterGroup = "regional"
	GroupAds      FilterGroup = "ads"
	GroupPrivacy  FilterGroup = "privacy"
	GroupMalware  FilterGroup = "malware"
	GroupSocial   FilterGroup = "social"
)

// Filter names one filter list and whether it is currently applied.
type Filter struct {
	Enabled  bool        `json:"enabled"`
	Title    string      `json:"title"`
	Group    FilterGroup `json:"group"`
	FileName string      `json:"file_name"`
}

// Configuration is the full set of knobs FilterLifecycle applies: which
// filter lists are enabled, any custom filter text, and exclusion
// patterns. Exclusions are applied directly; filters drive replace_engine.
type Configuration struct {
	Exclusions    []string `json:"exclusions"`
	CustomFilters []string `json:"custom_filters"`
	Filters       []Filter `json:"filters"`
}

func (c Configuration) enabledFilters() []Filter {
	var out []Filter
	for _, f := range c.Filters {
		if f.Enabled {
			out = append(out, f)
		}
	}
	return out
}

// ExclusionApplier is the subset of exclusions.Matcher FilterLifecycle
// needs.
type ExclusionApplier interface {
	Replace(patterns []string)
}

// EngineReplacer is the subset of filterengine.Requester FilterLifecycle
// needs.
type EngineReplacer interface {
	ReplaceEngine(filterTexts []string)
}

const refreshInterval = time.Hour

// FilterLifecycle owns the currently-applied Configuration and drives the
// hourly refresh loop, restarting it whenever a new Configuration arrives.
type FilterLifecycle struct {
	log            *logger.Logger
	httpClient     *http.Client
	requester      EngineReplacer
	exclusions     ExclusionApplier
	baseFiltersURL string
	db             *bolt.DB

	reconfigure chan Configuration
}

// New opens (or creates) the filter-byte cache at cacheDir/filters.db and
// returns a FilterLifecycle ready to Run.
func New(log *logger.Logger, httpClient *http.Client, requester EngineReplacer, excl ExclusionApplier, cacheDir, baseFiltersURL string) (*FilterLifecycle, error) {
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create filters cache dir: %w", err)
	}

	db, err := bolt.Open(filepath.Join(cacheDir, "filters.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open filters cache %q: %w", cacheDir, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(filtersBucket))
		return err
	}); err != nil {
		db.Close() //nolint:errcheck // best-effort close on init failure
		return nil, fmt.Errorf("create filters bucket: %w", err)
	}

	return &FilterLifecycle{
		log:            log,
		httpClient:     httpClient,
		requester:      requester,
		exclusions:     excl,
		baseFiltersURL: baseFiltersURL,
		db:             db,
		reconfigure:    make(chan Configuration, 1),
	}, nil
}

// Close releases the filter-byte cache's file handle.
func (l *FilterLifecycle) Close() error {
	return l.db.Close()
}

// Reconfigure pushes a new Configuration at the running lifecycle. Only
// the most recent pending configuration is kept if Run hasn't drained the
// previous one yet.
func (l *FilterLifecycle) Reconfigure(cfg Configuration) {
	select {
	case l.reconfigure <- cfg:
	default:
		select {
		case <-l.reconfigure:
		default:
		}
		l.reconfigure <- cfg
	}
}

// Run applies initial, then loops: each generation gets its own cancelable
// refresh loop, torn down and replaced whenever Reconfigure delivers a new
// Configuration. Run blocks until ctx is done.
func (l *FilterLifecycle) Run(ctx context.Context, initial Configuration) {
	cfg := initial
	for {
		genCtx, cancel := context.WithCancel(ctx)
		l.applyAndRefresh(genCtx, cfg)

		select {
		case <-ctx.Done():
			cancel()
			return
		case cfg = <-l.reconfigure:
			cancel()
			l.log.Infow("configuration changed, restarting filter refresh loop")
		}
	}
}

// applyAndRefresh loads (or fetches) filter contents for cfg, replaces the
// engine and exclusion set, then launches a background goroutine that
// refreshes filters every hour until ctx is canceled.
func (l *FilterLifecycle) applyAndRefresh(ctx context.Context, cfg Configuration) {
	l.exclusions.Replace(cfg.Exclusions)

	filters := l.loadOrFetchAll(ctx, cfg)
	l.requester.ReplaceEngine(filters)

	go l.refreshLoop(ctx, cfg)
}

func (l *FilterLifecycle) refreshLoop(ctx context.Context, cfg Configuration) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			filters := l.fetchAndCacheAll(ctx, cfg)
			l.requester.ReplaceEngine(filters)
			l.log.Infow("refreshed filter lists", "count", len(cfg.enabledFilters()))
		}
	}
}

// loadOrFetchAll returns the concatenated content of every enabled filter
// plus custom filters, loading each enabled filter from the on-disk cache
// and falling back to a fetch-and-persist only when the cache is missing.
func (l *FilterLifecycle) loadOrFetchAll(ctx context.Context, cfg Configuration) []string {
	var filters []string
	for _, f := range cfg.enabledFilters() {
		content, err := l.loadCached(f.FileName)
		if errors.Is(err, errCacheMiss) {
			content, err = l.fetchAndCache(ctx, f.FileName)
		}
		if err != nil {
			l.log.Errorw("unable to retrieve filter, skipping", "file_name", f.FileName, "err", err)
			continue
		}
		filters = append(filters, content)
	}
	return append(filters, cfg.CustomFilters...)
}

// fetchAndCacheAll always re-fetches every enabled filter, overwriting the
// on-disk cache, for use by the hourly refresh loop.
func (l *FilterLifecycle) fetchAndCacheAll(ctx context.Context, cfg Configuration) []string {
	var filters []string
	for _, f := range cfg.enabledFilters() {
		content, err := l.fetchAndCache(ctx, f.FileName)
		if err != nil {
			l.log.Errorw("unable to update filter, skipping", "file_name", f.FileName, "err", err)
			continue
		}
		filters = append(filters, content)
	}
	return append(filters, cfg.CustomFilters...)
}

var errCacheMiss = errors.New("filter not present in cache")

func (l *FilterLifecycle) loadCached(fileName string) (string, error) {
	var content string
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(filtersBucket)).Get([]byte(fileName))
		if v == nil {
			return errCacheMiss
		}
		content = string(v)
		return nil
	})
	return content, err
}

func (l *FilterLifecycle) storeCached(fileName string, body []byte) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(filtersBucket)).Put([]byte(fileName), body)
	})
}

func (l *FilterLifecycle) fetchAndCache(ctx context.Context, fileName string) (string, error) {
	url := l.baseFiltersURL + "/" + fileName
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build filter fetch request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch filter %s: %w", fileName, err)
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch filter %s: status %d", fileName, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read filter %s: %w", fileName, err)
	}

	if err := l.storeCached(fileName, body); err != nil {
		return "", fmt.Errorf("persist filter %s: %w", fileName, err)
	}

	return string(body), nil
}
