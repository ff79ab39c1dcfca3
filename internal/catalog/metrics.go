package catalog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics mirror the construction style of superfly-litefs/db.go's
// dbTXIDMetricVec family (promauto.NewGaugeVec/NewCounterVec at package
// scope) — this repo's teacher carries no metrics of its own, so the idiom
// is learned from the wider retrieval pack, as SPEC_FULL.md B.2 notes.
var (
	nodeHealthMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgautofailover_node_health",
		Help: "1 if the monitor's last probe of the node succeeded, 0 otherwise.",
	}, []string{"formation", "group", "node"})

	groupHasPrimaryMetric = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pgautofailover_group_has_primary",
		Help: "1 if the group currently has a node in a writable goal state.",
	}, []string{"formation", "group"})

	eventsTotalMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgautofailover_events_total",
		Help: "Total number of events appended to the event log.",
	}, []string{"formation", "group"})

	failoversTotalMetric = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pgautofailover_failovers_total",
		Help: "Total number of failovers initiated, by trigger reason.",
	}, []string{"formation", "group", "reason"})
)
