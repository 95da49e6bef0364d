// Package filterengine implements adblock-style network and cosmetic
// filtering: rule parsing, a single-owner worker goroutine holding the
// compiled Engine, and an async-style requester façade over it.
package filterengine

import (
	"sync/atomic"

	"privaxy-go/internal/logger"
)

// requestKind tags a BlockerRequest with which union member of its payload
// is valid, mirroring the blocker's three message shapes.
type requestKind int

const (
	kindURL requestKind = iota
	kindCosmetic
	kindReplaceEngine
)

// BlockerRequest is one message sent to the FilterEngine worker. Exactly
// one of the kind-specific fields is populated, matching requestKind.
type BlockerRequest struct {
	kind requestKind

	url     string
	referer string

	cosmeticURL string
	ids         []string
	classes     []string

	filterTexts []string

	respondNetwork  chan NetworkResult
	respondCosmetic chan CosmeticResult
}

// Worker owns the single compiled Engine instance. It is the sole mutator
// of engine state; every other task reaches it only through its channel.
type Worker struct {
	requests  chan BlockerRequest
	resources []Resource
	log       *logger.Logger

	blockingDisabled *atomic.Bool
}

// NewWorker returns a Worker with a closed (no-op) engine; call Run in its
// own goroutine to start serving requests.
func NewWorker(log *logger.Logger, resources []Resource, blockingDisabled *atomic.Bool, queueDepth int) *Worker {
	if queueDepth < 1 {
		queueDepth = 64
	}
	return &Worker{
		requests:         make(chan BlockerRequest, queueDepth),
		resources:        resources,
		log:              log,
		blockingDisabled: blockingDisabled,
	}
}

// Run drains the request channel until it is closed, handling requests in
// arrival order on a single goroutine so ReplaceEngine strictly happens-
// before any request enqueued after it.
func (w *Worker) Run() {
	engine := NewEngine(nil, w.resources)
	for req := range w.requests {
		switch req.kind {
		case kindURL:
			if w.blockingDisabled.Load() {
				req.respondNetwork <- NetworkResult{}
				continue
			}
			req.respondNetwork <- engine.CheckNetworkURL(req.url, req.referer)

		case kindCosmetic:
			if w.blockingDisabled.Load() {
				req.respondCosmetic <- CosmeticResult{StyleSelectors: map[string][]string{}}
				continue
			}
			req.respondCosmetic <- engine.CosmeticResourcesFor(req.cosmeticURL, req.ids, req.classes)

		case kindReplaceEngine:
			w.log.Debugw("configuring blocking engine", "filter_count", len(req.filterTexts))
			engine = NewEngine(req.filterTexts, w.resources)
		}
	}
}
