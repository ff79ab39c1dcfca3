// Package fsm defines the failover state machine's closed state set and the
// keeper-side transition table. The monitor's rules engine (internal/catalog)
// decides goal states; this package only describes the shape of the machine
// itself, shared between the monitor and the keeper.
package fsm

// State is one of the closed set of per-node states.
type State string

const (
	Init              State = "init"
	Single            State = "single"
	WaitPrimary       State = "wait_primary"
	Primary           State = "primary"
	JoinPrimary       State = "join_primary"
	ApplySettings     State = "apply_settings"
	WaitStandby       State = "wait_standby"
	CatchingUp        State = "catchingup"
	Secondary         State = "secondary"
	PreparePromotion  State = "prepare_promotion"
	StopReplication   State = "stop_replication"
	WaitMaintenance   State = "wait_maintenance"
	Maintenance       State = "maintenance"
	Draining          State = "draining"
	DemoteTimeout     State = "demote_timeout"
	Demoted           State = "demoted"
	Demote            State = "demote"
	ReportLSN         State = "report_lsn"
	JoinSecondary     State = "join_secondary"
	FastForward       State = "fast_forward"
	Dropped           State = "dropped"
)

// writableStates is the set of states in which a node may accept writes.
var writableStates = map[State]bool{
	Single:        true,
	WaitPrimary:   true,
	Primary:       true,
	JoinPrimary:   true,
	ApplySettings: true,
}

// IsWritable reports whether s is in the writable lineage.
func IsWritable(s State) bool {
	return writableStates[s]
}

// primaryLineage is the set of goal states compatible with a node
// reporting itself as primary. It overlaps writableStates but is not the
// same set: single is writable (a lone node may take writes) but is not
// part of the primary lineage, so a node reporting primary while its goal
// is single is still a fencing violation.
var primaryLineage = map[State]bool{
	Primary:       true,
	WaitPrimary:   true,
	JoinPrimary:   true,
	ApplySettings: true,
}

// InPrimaryLineage reports whether s is one of primary/wait_primary/
// join_primary/apply_settings — the goal states compatible with a node
// reporting itself as primary.
func InPrimaryLineage(s State) bool {
	return primaryLineage[s]
}

// IsTerminal reports whether s is a terminal state (no further transitions).
func IsTerminal(s State) bool {
	return s == Dropped
}

// Valid reports whether s is one of the closed set of states.
func Valid(s State) bool {
	switch s {
	case Init, Single, WaitPrimary, Primary, JoinPrimary, ApplySettings,
		WaitStandby, CatchingUp, Secondary, PreparePromotion, StopReplication,
		WaitMaintenance, Maintenance, Draining, DemoteTimeout, Demoted, Demote,
		ReportLSN, JoinSecondary, FastForward, Dropped:
		return true
	default:
		return false
	}
}
