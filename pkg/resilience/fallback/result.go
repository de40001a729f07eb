package fallback

// Document is one search result item as cached and served by the
// fallback chain. The primary search operation produces documents; the
// chain only ever re-serves or filters them.
type Document struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// text returns the matchable text of a document.
func (d Document) text() string {
	return d.Title + " " + d.Snippet
}

// Result is the outcome of a fallback strategy execution.
type Result struct {
	// Success is false only for the last-resort empty result.
	Success bool

	// Data holds the served documents.
	Data []Document

	// Source names the strategy that produced the result.
	Source string

	// IsPartial marks results known to be incomplete.
	IsPartial bool

	// IsCached marks results served from the query cache.
	IsCached bool

	// Reliability grades the result quality in [0, 1]. Cached data
	// decays with age; degraded matches score lower than cache hits.
	Reliability float64

	// FallbackReason describes why the fallback engaged.
	FallbackReason string

	// Suggestions are actionable hints for the user when no data could
	// be served.
	Suggestions []string
}
