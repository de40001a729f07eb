package fallback

import (
	"context"
	"strings"
	"time"

	"github.com/searchkit/resilience/pkg/resilience/classify"
)

// Request carries everything a strategy needs to produce degraded data.
type Request struct {
	// Err is the canonical error that exhausted the primary path.
	Err *classify.Record

	// Query is the original search query.
	Query string

	// Context is the caller's error context sidecar.
	Context *classify.Context
}

// Executor is the capability object behind a registered strategy.
type Executor interface {
	// Execute produces a fallback result or fails.
	Execute(ctx context.Context, req *Request) (*Result, error)

	// CanExecute reports whether the strategy can serve this request.
	CanExecute(req *Request) bool

	// Description explains what the strategy does.
	Description() string
}

// Strategy registers an executor with ordering and gating metadata.
// Strategies execute strictly sequentially in ascending priority order.
type Strategy struct {
	// Name identifies the strategy; also the Result.Source value.
	Name string

	// Priority orders execution. Lower runs first.
	Priority int

	// Enabled gates the strategy without unregistering it.
	Enabled bool

	// Condition is an optional extra eligibility predicate.
	Condition func(req *Request) bool

	// Executor does the work.
	Executor Executor

	// Timeout races Execute; zero means the chain default.
	Timeout time.Duration
}

// Built-in strategy names.
const (
	StrategyCachedResults  = "cache"
	StrategySimplifiedMode = "simplified-mode"
	StrategyOfflineMode    = "offline-mode"
	StrategyEmptyResults   = "empty-results"
)

// cachedResultsExecutor serves a fresh cache bucket for the exact
// query+context key.
type cachedResultsExecutor struct {
	chain *Chain
}

func (e *cachedResultsExecutor) Description() string {
	return "serves previously cached results for the same query"
}

func (e *cachedResultsExecutor) CanExecute(req *Request) bool {
	_, ok := e.chain.lookup(cacheKey(req.Context, req.Query))
	return ok
}

func (e *cachedResultsExecutor) Execute(_ context.Context, req *Request) (*Result, error) {
	entry, ok := e.chain.lookup(cacheKey(req.Context, req.Query))
	if !ok {
		return nil, ErrNoCachedResults
	}
	return &Result{
		Success:        true,
		Data:           append([]Document(nil), entry.docs...),
		Source:         StrategyCachedResults,
		IsCached:       true,
		Reliability:    entry.decayedReliability(time.Now(), e.chain.opts.CacheMaxAge),
		FallbackReason: reasonOf(req),
	}, nil
}

// simplifiedModeExecutor scans every cached bucket for naive substring
// matches. Always eligible; fails when no local data matches so the
// chain can move on.
type simplifiedModeExecutor struct {
	chain *Chain
}

func (e *simplifiedModeExecutor) Description() string {
	return "naive substring search across all cached data"
}

func (e *simplifiedModeExecutor) CanExecute(*Request) bool {
	return true
}

func (e *simplifiedModeExecutor) Execute(_ context.Context, req *Request) (*Result, error) {
	needle := strings.ToLower(strings.TrimSpace(req.Query))
	var matches []Document
	seen := make(map[string]bool)

	for _, entry := range e.chain.snapshotCache() {
		for _, doc := range entry.docs {
			if needle != "" && !strings.Contains(strings.ToLower(doc.text()), needle) {
				continue
			}
			if doc.ID != "" && seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			matches = append(matches, doc)
		}
	}

	if len(matches) == 0 {
		return nil, ErrNoCachedResults
	}
	return &Result{
		Success:        true,
		Data:           matches,
		Source:         StrategySimplifiedMode,
		IsPartial:      true,
		Reliability:    0.6,
		FallbackReason: reasonOf(req),
	}, nil
}

// offlineModeExecutor serves local data while offline. Eligible only
// when the chain's offline flag is set, or the failure is
// network-shaped and local data exists. Executing it flips the sticky
// offline flag for future calls.
type offlineModeExecutor struct {
	chain *Chain
}

func (e *offlineModeExecutor) Description() string {
	return "strict term matching over local data while offline"
}

func (e *offlineModeExecutor) CanExecute(req *Request) bool {
	if e.chain.Offline() {
		return true
	}
	return isConnectivityFailure(req.Err) && e.chain.CacheSize() > 0
}

func (e *offlineModeExecutor) Execute(_ context.Context, req *Request) (*Result, error) {
	e.chain.EnableOffline()

	terms := strings.Fields(strings.ToLower(req.Query))
	var matches []Document
	var reliabilitySum float64
	var contributing int
	seen := make(map[string]bool)

	for _, entry := range e.chain.snapshotCache() {
		contributed := false
		for _, doc := range entry.docs {
			if !matchesTerms(strings.ToLower(doc.text()), terms) {
				continue
			}
			if doc.ID != "" && seen[doc.ID] {
				continue
			}
			seen[doc.ID] = true
			matches = append(matches, doc)
			contributed = true
		}
		if contributed {
			reliabilitySum += entry.reliability
			contributing++
		}
	}

	if len(matches) == 0 {
		return nil, ErrNoCachedResults
	}
	return &Result{
		Success:        true,
		Data:           matches,
		Source:         StrategyOfflineMode,
		IsPartial:      true,
		Reliability:    reliabilitySum / float64(contributing),
		FallbackReason: reasonOf(req),
	}, nil
}

// matchesTerms requires at least half of the query terms to appear.
func matchesTerms(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	hits := 0
	for _, term := range terms {
		if strings.Contains(text, term) {
			hits++
		}
	}
	return hits*2 >= len(terms)
}

// emptyResultsExecutor is the last resort: always eligible, never
// fails, returns no data with actionable suggestions.
type emptyResultsExecutor struct{}

func (emptyResultsExecutor) Description() string {
	return "returns an empty result with suggestions"
}

func (emptyResultsExecutor) CanExecute(*Request) bool {
	return true
}

func (emptyResultsExecutor) Execute(_ context.Context, req *Request) (*Result, error) {
	return &Result{
		Success:        false,
		Data:           nil,
		Source:         StrategyEmptyResults,
		Reliability:    0,
		FallbackReason: reasonOf(req),
		Suggestions: []string{
			"check your network connection",
			"try a simpler or shorter query",
			"retry in a few moments",
		},
	}, nil
}

// isConnectivityFailure reports whether the failure looks like a lost
// connection, which makes offline mode a sensible degradation.
func isConnectivityFailure(rec *classify.Record) bool {
	if rec == nil {
		return false
	}
	return rec.Type == classify.TypeNetwork || rec.Type == classify.TypeTimeout
}

func reasonOf(req *Request) string {
	if req.Err == nil {
		return ""
	}
	return string(req.Err.Type)
}
