// Package catalog implements the monitor's catalog and rules engine: the
// process-wide state of formations, groups, and nodes, and the transactional
// operations (register_node, node_active, remove_node, perform_failover,
// set_node_system_identifier, get_primary, get_other_nodes) that keepers and
// operators invoke. The catalog schema here stands in for the embedded
// database extension's tables.
package catalog

import (
	"time"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

// FormationKind is the closed set of formation kinds.
type FormationKind string

const (
	FormationPlain   FormationKind = "plain"
	FormationSharded FormationKind = "sharded"
)

// ReplicationState is the node's self-reported synchronous replication
// standing, as observed by Postgres (pg_stat_replication.sync_state).
type ReplicationState string

const (
	ReplicationAsync   ReplicationState = "async"
	ReplicationSync    ReplicationState = "sync"
	ReplicationQuorum  ReplicationState = "quorum"
	ReplicationUnknown ReplicationState = "unknown"
)

// Health is the monitor's independent assessment of node reachability,
// distinct from what the node itself reports.
type Health string

const (
	HealthUnknown Health = "unknown"
	HealthGood    Health = "good"
	HealthBad     Health = "bad"
)

// Formation is a named logical cluster.
type Formation struct {
	FormationID        string
	Kind               FormationKind
	DBName             string
	OptSecondary       bool
	NumberSyncStandbys int
}

// Clone returns a deep copy (Formation has no pointer/slice fields today,
// but Clone exists so callers never need to remember that).
func (f Formation) Clone() Formation {
	return f
}

// Node is one database node. GroupID identifies its replication group
// within the formation; there is no separate Group struct because a group
// has no state beyond "the nodes that share this (FormationID, GroupID)".
type Node struct {
	NodeID             int64
	NodeName           string
	FormationID        string
	GroupID            int
	Host               string
	Port               int
	SystemIdentifier   int64 // 0 means not yet set
	CandidatePriority  int   // 0-100; 0 disqualifies from promotion
	ReplicationQuorum  bool

	ReportedState    fsm.State
	GoalState        fsm.State
	ReportedLSN      uint64
	ReportedPgIsRunning        bool
	ReportedReplicationState   ReplicationState

	Health          Health
	HealthCheckedAt time.Time
	StateChangedAt  time.Time
	ReportedAt      time.Time

	// ElectionStartedAt records when the node entered report_lsn for the
	// current failover round, so the "reported since the election
	// started" eligibility check has something to compare against. Zero
	// means "not currently part of an election".
	ElectionStartedAt time.Time

	// MaintenanceRequested is the operator's standing intent, set by
	// SetNodeMaintenance and consumed by evaluateGroup's rule 9: true
	// drives the node toward wait_maintenance/maintenance, false drives
	// it back out toward catchingup/secondary.
	MaintenanceRequested bool
}

func (n Node) Clone() Node {
	return n
}

// Event is an append-only, monotonically-ID'd log entry.
type Event struct {
	EventID     int64
	Timestamp   time.Time
	FormationID string
	GroupID     int
	NodeID      int64
	Reported    fsm.State
	Goal        fsm.State
	Description string
}
