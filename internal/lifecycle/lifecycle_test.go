package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"privaxy-go/internal/logger"
)

type fakeReplacer struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeReplacer) ReplaceEngine(filterTexts []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, filterTexts)
}

func (f *fakeReplacer) last() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

type fakeExclusionApplier struct {
	mu       sync.Mutex
	patterns []string
}

func (f *fakeExclusionApplier) Replace(patterns []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = patterns
}

func (f *fakeExclusionApplier) get() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.patterns
}

func newTestLifecycle(t *testing.T, baseURL string) *FilterLifecycle {
	t.Helper()
	l, err := New(logger.New("lifecycle_test", "error"), http.DefaultClient, &fakeReplacer{}, &fakeExclusionApplier{}, t.TempDir(), baseURL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	return l
}

func TestLoadCached_MissReturnsErrCacheMiss(t *testing.T) {
	l := newTestLifecycle(t, "http://example.invalid")

	_, err := l.loadCached("easylist.txt")
	if !errors.Is(err, errCacheMiss) {
		t.Fatalf("err = %v, want errCacheMiss", err)
	}
}

func TestFetchAndCache_StoresBodyForLaterLoadCached(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("||ads.example.com^\n")) //nolint:errcheck
	}))
	defer upstream.Close()

	l := newTestLifecycle(t, upstream.URL)

	content, err := l.fetchAndCache(context.Background(), "easylist.txt")
	if err != nil {
		t.Fatalf("fetchAndCache: %v", err)
	}
	if content != "||ads.example.com^\n" {
		t.Errorf("content = %q, want upstream body", content)
	}

	cached, err := l.loadCached("easylist.txt")
	if err != nil {
		t.Fatalf("loadCached after fetch: %v", err)
	}
	if cached != content {
		t.Errorf("cached = %q, want %q", cached, content)
	}
}

func TestFetchAndCache_NonOKStatusIsAnError(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))
	defer upstream.Close()

	l := newTestLifecycle(t, upstream.URL)

	if _, err := l.fetchAndCache(context.Background(), "missing.txt"); err == nil {
		t.Fatal("expected an error for a non-200 upstream response")
	}
}

func TestLoadOrFetchAll_CombinesCachedFetchedAndCustomFilters(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fetched-content\n")) //nolint:errcheck
	}))
	defer upstream.Close()

	l := newTestLifecycle(t, upstream.URL)
	if err := l.storeCached("easylist.txt", []byte("cached-content\n")); err != nil {
		t.Fatalf("storeCached: %v", err)
	}

	cfg := Configuration{
		Filters: []Filter{
			{Enabled: true, FileName: "easylist.txt"},
			{Enabled: true, FileName: "easyprivacy.txt"},
			{Enabled: false, FileName: "disabled.txt"},
		},
		CustomFilters: []string{"||custom.example.com^"},
	}

	got := l.loadOrFetchAll(context.Background(), cfg)
	want := []string{"cached-content\n", "fetched-content\n", "||custom.example.com^"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("filters[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestReconfigure_KeepsOnlyMostRecentPending(t *testing.T) {
	l := newTestLifecycle(t, "http://example.invalid")

	l.Reconfigure(Configuration{CustomFilters: []string{"first"}})
	l.Reconfigure(Configuration{CustomFilters: []string{"second"}})

	select {
	case cfg := <-l.reconfigure:
		if len(cfg.CustomFilters) != 1 || cfg.CustomFilters[0] != "second" {
			t.Errorf("drained config = %+v, want only the second push", cfg)
		}
	default:
		t.Fatal("expected a pending configuration")
	}

	select {
	case cfg := <-l.reconfigure:
		t.Fatalf("expected no second pending configuration, got %+v", cfg)
	default:
	}
}

func TestRun_AppliesInitialConfigurationAndStopsOnCancel(t *testing.T) {
	l := newTestLifecycle(t, "http://example.invalid")
	replacer := l.requester.(*fakeReplacer)
	excl := l.exclusions.(*fakeExclusionApplier)

	cfg := Configuration{
		Exclusions:    []string{"*.bank.example"},
		CustomFilters: []string{"||ads.example.com^"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx, cfg)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if got := excl.get(); len(got) == 1 && got[0] == "*.bank.example" {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for exclusions to be applied")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if last := replacer.last(); len(last) != 1 || last[0] != "||ads.example.com^" {
		t.Errorf("engine replaced with %v, want [||ads.example.com^]", last)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
