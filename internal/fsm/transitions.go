package fsm

// Action identifies the idempotent local action the keeper must run to move
// a node from one state to another. The keeper (internal/keeper) supplies
// the actual implementations; this table only says which action applies to
// which (from, to) pair and what to say about it in the event log.
type Action string

const (
	ActionInitPrimary        Action = "init_primary"
	ActionInitStandby        Action = "init_standby"
	ActionDisableReplication Action = "disable_replication"
	ActionEnableReplication  Action = "enable_replication"
	ActionEnableSync         Action = "enable_sync_replication"
	ActionDisableSync        Action = "disable_sync_replication"
	ActionBaseBackup         Action = "base_backup"
	ActionNoop               Action = "noop"
	ActionReportLSN          Action = "report_lsn"
	ActionStopReplication    Action = "stop_replication"
	ActionPromote            Action = "promote"
	ActionDemote             Action = "demote"
	ActionFastForward        Action = "fast_forward"
	ActionMaintenanceOn      Action = "maintenance_on"
	ActionMaintenanceOff     Action = "maintenance_off"
	ActionDrain              Action = "drain"
	ActionDropNode           Action = "drop_node"
)

// Transition describes one edge of the keeper-side FSM: the action to run
// and the comment to attach to the resulting event.
type Transition struct {
	From    State
	To      State
	Comment string
	Action  Action
}

// Table is the keeper's (from, to) -> action map. It is not exhaustive of
// every pair the rules engine can assign — unlisted pairs fall back to
// ActionNoop. Pairs that differ only in bookkeeping (e.g. catchingup ->
// secondary) are listed with ActionNoop so they still carry an event comment.
var Table = []Transition{
	{Init, Single, "Start as a single node", ActionInitPrimary},
	{Init, WaitStandby, "Start following a primary", ActionInitStandby},

	{Single, WaitPrimary, "A new standby was added", ActionEnableReplication},
	{WaitPrimary, Primary, "A healthy standby appeared", ActionEnableSync},
	{Primary, WaitPrimary, "Standby became unhealthy", ActionDisableSync},

	{Primary, Single, "Other node was forcibly removed, now single", ActionDisableReplication},
	{WaitPrimary, Single, "Other node was forcibly removed, now single", ActionDisableReplication},

	{WaitStandby, CatchingUp, "The primary is now ready to accept a standby", ActionBaseBackup},
	{CatchingUp, Secondary, "Convinced the monitor it is caught up", ActionNoop},
	{Secondary, CatchingUp, "Failed to report back in time, not eligible for promotion", ActionNoop},

	{Secondary, PreparePromotion, "Stop traffic to primary, wait for it to drain", ActionNoop},
	{PreparePromotion, StopReplication, "Prevent against split-brain situations", ActionStopReplication},
	{StopReplication, WaitPrimary, "Confirmed promotion with the monitor", ActionPromote},

	{Primary, Draining, "A failover occurred, stopping writes", ActionDrain},
	{WaitPrimary, Draining, "A failover occurred, stopping writes", ActionDrain},
	{Draining, DemoteTimeout, "Secondary confirms it is receiving no more writes", ActionNoop},
	{Draining, Demoted, "Demoted after a failover, no longer primary", ActionDemote},
	{DemoteTimeout, Demoted, "Demote timeout expired", ActionDemote},
	{Demoted, CatchingUp, "A new primary is available, try to rewind or re-basebackup", ActionFastForward},
	{Demoted, Single, "Was demoted after a failure, but the other node was forcibly removed", ActionDisableReplication},

	{Secondary, WaitMaintenance, "Preparing standby for manual maintenance", ActionNoop},
	{WaitMaintenance, Maintenance, "Suspending standby for manual maintenance", ActionMaintenanceOn},
	{Maintenance, CatchingUp, "Restarting standby after manual maintenance is done", ActionMaintenanceOff},

	{Secondary, ReportLSN, "Primary was lost, electing the most advanced standby", ActionReportLSN},
	{CatchingUp, ReportLSN, "Primary was lost, electing the most advanced standby", ActionReportLSN},
	{ReportLSN, PreparePromotion, "Elected as the new primary", ActionNoop},
	{ReportLSN, FastForward, "Not the elected candidate, aligning with the winner", ActionFastForward},
	{ReportLSN, JoinSecondary, "Elected candidate is ahead, following as standby", ActionNoop},
	{JoinSecondary, Secondary, "Caught up with the newly elected primary", ActionNoop},
	{FastForward, JoinSecondary, "Rewind complete, resuming replication", ActionNoop},

	{Primary, DemoteTimeout, "Primary was lost or removed", ActionDrain},
	{Primary, Dropped, "Node was removed", ActionDropNode},
	{WaitPrimary, Dropped, "Node was removed", ActionDropNode},
	{Secondary, Dropped, "Node was removed", ActionDropNode},
	{CatchingUp, Dropped, "Node was removed", ActionDropNode},
	{WaitStandby, Dropped, "Node was removed", ActionDropNode},
	{Single, Dropped, "Node was removed", ActionDropNode},
}

// Lookup returns the transition registered for (from, to), if any.
func Lookup(from, to State) (Transition, bool) {
	for _, t := range Table {
		if t.From == from && t.To == to {
			return t, true
		}
	}
	return Transition{}, false
}

// CommentFor returns the event description for a (from, to) pair, falling
// back to a generic description when the pair isn't in the table (e.g.
// init -> primary).
func CommentFor(from, to State) string {
	if t, ok := Lookup(from, to); ok {
		return t.Comment
	}
	return "state transition"
}
