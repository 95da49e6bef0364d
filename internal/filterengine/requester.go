package filterengine

// Requester is the thin façade every request-handling goroutine uses to
// talk to the FilterEngine worker: build a request, send it, wait for the
// one reply that kind produces.
type Requester struct {
	requests chan<- BlockerRequest
}

// NewRequester wraps a Worker's inbound channel for request-side use.
func NewRequester(w *Worker) *Requester {
	return &Requester{requests: w.requests}
}

// IsBlocked reports whether url is blocked in the context of referer
// (pass url itself as referer when no referer header was present, to
// avoid false positives from third-party-context heuristics), along with
// the full NetworkResult for building a response.
func (r *Requester) IsBlocked(url, referer string) (bool, NetworkResult) {
	reply := make(chan NetworkResult, 1)
	r.requests <- BlockerRequest{
		kind:           kindURL,
		url:            url,
		referer:        referer,
		respondNetwork: reply,
	}
	result := <-reply
	return result.Matched, result
}

// Cosmetic resolves which selectors to hide and which script to inject for
// a rendered page, given its URL and the id/class attribute values
// observed while streaming its HTML.
func (r *Requester) Cosmetic(url string, ids, classes []string) CosmeticResult {
	reply := make(chan CosmeticResult, 1)
	r.requests <- BlockerRequest{
		kind:            kindCosmetic,
		cosmeticURL:     url,
		ids:             ids,
		classes:         classes,
		respondCosmetic: reply,
	}
	return <-reply
}

// ReplaceEngine swaps the worker's compiled rule set. It is fire-and-
// forget: the caller does not wait for the rebuild to finish, only for the
// message to be enqueued ahead of any request sent after this call
// returns.
func (r *Requester) ReplaceEngine(filterTexts []string) {
	r.requests <- BlockerRequest{kind: kindReplaceEngine, filterTexts: filterTexts}
}
