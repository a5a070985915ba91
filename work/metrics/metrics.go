package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RefreshRuns counts completed refresh invocations per source and outcome.
// The "result" label is "ok" or "error"; skipped overlapping ticks are
// tracked separately by RefreshSkipped.
var RefreshRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apex_live_refresh_runs_total",
	Help: "Completed source refresh runs",
}, []string{"source", "result"})

// RefreshSkipped counts timer fires skipped because the previous refresh
// for the same source was still in flight.
var RefreshSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apex_live_refresh_skipped_total",
	Help: "Refresh ticks skipped due to an in-flight run",
}, []string{"source"})

// RelayBytes counts bytes streamed through the content proxy relay to
// downstream clients.
var RelayBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "apex_live_relay_bytes_total",
	Help: "Bytes relayed to downstream clients",
})

// RelayErrors counts relay failures by stage (validate, fetch, stream).
var RelayErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apex_live_relay_errors_total",
	Help: "Proxy relay failures",
}, []string{"stage"})

// IngestedRecords counts normalized records produced by ingestion, labeled
// by source kind and record type (channel, programme).
var IngestedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "apex_live_ingested_records_total",
	Help: "Normalized records produced by ingestion",
}, []string{"kind", "record"})

// LiveChannels tracks the current size of the merged live channel registry.
var LiveChannels = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "apex_live_channels",
	Help: "Live channels currently in the registry",
})
