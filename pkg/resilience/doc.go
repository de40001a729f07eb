/*
Package resilience wires the error-resilience pipeline for a search
widget: classification, retry, fallback, recovery workflows, and log
aggregation behind a single Pipeline facade.

# Overview

A failing search operation flows through the pipeline in a fixed
order. The failure is classified once into a canonical record; the
retry coordinator consumes that classification to decide eligibility
and backoff; on exhaustion the fallback chain tries degraded data
sources; independently, every canonical error is logged to the
aggregator and, when systemic, dispatched to the recovery
orchestrator.

# Basic Usage

	p := resilience.New()

	result, err := p.Execute(ctx, "laptop chargers", &classify.Context{
	    Adapter: "catalog",
	}, func(ctx context.Context) (any, error) {
	    return searchCatalog(ctx, "laptop chargers")
	})

On success result.Source is "primary" and the documents are cached
for future fallback. On failure the pipeline returns the best
degraded result it could produce, with result.Err carrying the
canonical error that forced the degradation.

The subpackages are usable on their own: classify for the taxonomy,
retry for backoff, fallback for the strategy chain, recovery for
workflows, and logagg for sanitized aggregation.
*/
package resilience
