// Package metrics publishes pipeline counters through expvar at /debug/vars.
package metrics

import "expvar"

var (
	DocumentsSubmitted = expvar.NewInt("documents_submitted")
	DocumentsIndexed   = expvar.NewInt("documents_indexed")
	ChunksIndexed      = expvar.NewInt("chunks_indexed")
	// DocumentsFailed is keyed by the stage that failed.
	DocumentsFailed = expvar.NewMap("documents_failed")
	Answers         = expvar.NewInt("answers")
	CacheHits       = expvar.NewInt("answer_cache_hits")
	Summaries       = expvar.NewInt("summaries")
)
