package catalog

import (
	"time"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

// change is one goal-state reassignment produced by a rules pass. The
// comment becomes the Event.Description for the transition, grounded on
// fsm.c's per-transition COMMENT_* strings.
type change struct {
	nodeID  int64
	newGoal fsm.State
	comment string
}

// failoverStates is the set of goal states that mean "a failover/election
// is currently underway for this group". Its presence on any live node is
// how evaluateGroup detects, without any hidden counter, that the failover
// rule has already fired and should not fire again — the same snapshot
// always produces the same assignment.
var failoverStates = map[fsm.State]bool{
	fsm.ReportLSN:        true,
	fsm.PreparePromotion: true,
	fsm.StopReplication:  true,
	fsm.DemoteTimeout:    true,
	fsm.Demoted:          true,
	fsm.JoinSecondary:    true,
	fsm.FastForward:      true,
	fsm.Draining:         true,
}

// groupInFailover reports whether any live node's goal marks an
// in-progress failover/election round.
func groupInFailover(nodes []*Node) bool {
	for _, n := range nodes {
		if failoverStates[n.GoalState] {
			return true
		}
	}
	return false
}

// currentPrimary returns the (at most one, by invariant) live node whose
// goal state is in the writable lineage, or nil.
func currentPrimary(nodes []*Node) *Node {
	for _, n := range nodes {
		if fsm.IsWritable(n.GoalState) {
			return n
		}
	}
	return nil
}

// evaluateGroup runs the assignment rules over one group's live nodes and
// returns the set of goal-state changes to apply. It is a pure function of
// its arguments (no hidden state), so the same snapshot always produces the
// same changes. now/timeout drive failure detection indirectly: the caller
// must have already refreshed each node's Health/HealthCheckedAt via
// CheckHealth before calling evaluateGroup with failoverRequested=false
// from the periodic sweep, or simply skip straight to the
// election-progression rules for a node_active-triggered call.
func evaluateGroup(formation *Formation, nodes []*Node, now time.Time, timeout time.Duration, catchupSlack uint64, failoverRequested bool, removedNodeID int64) []change {
	var changes []change
	apply := func(n *Node, goal fsm.State, comment string) {
		if n.GoalState == goal {
			return
		}
		changes = append(changes, change{nodeID: n.NodeID, newGoal: goal, comment: comment})
		// evaluateGroup must see its own writes within one pass (e.g. the
		// election resolution needs to know the winner's new goal while
		// computing losers), so mutate the in-memory snapshot directly;
		// catalog.go still owns committing this to the real node map.
		n.GoalState = goal
	}

	live := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.NodeID != removedNodeID {
			live = append(live, n)
		}
	}

	// Rule 1: singleton primary.
	if len(live) == 1 {
		n := live[0]
		if n.GoalState != fsm.Single && !failoverStates[n.GoalState] {
			apply(n, fsm.Single, fsm.CommentFor(n.GoalState, fsm.Single))
		}
		return changes
	}
	if len(live) == 0 {
		return changes
	}

	inFailover := groupInFailover(live)
	removingPrimary := removedNodeID != 0 && currentPrimaryIs(nodes, removedNodeID)

	// Rule 6: failover initiation, either because the caller flagged an
	// explicit perform_failover(), because the primary is being removed
	// (rule 8's removal-as-failover path), or because rule 5 already
	// marked the primary unhealthy for long enough (failoverRequested is
	// true for both the manual and the health-triggered case — the caller
	// decides which one applies before calling in).
	if !inFailover && (failoverRequested || removingPrimary) {
		var lostPrimary *Node
		for _, n := range nodes {
			if n.NodeID == removedNodeID {
				lostPrimary = n
				break
			}
		}
		if lostPrimary == nil {
			lostPrimary = currentPrimary(live)
		}

		for _, n := range live {
			if lostPrimary != nil && n.NodeID == lostPrimary.NodeID {
				continue
			}
			if n.Health == HealthBad {
				continue // unreachable peers can't take part in the election
			}
			n.ElectionStartedAt = now
			apply(n, fsm.ReportLSN, fsm.CommentFor(n.GoalState, fsm.ReportLSN))
		}
		if lostPrimary != nil {
			if removingPrimary {
				apply(lostPrimary, fsm.Dropped, fsm.CommentFor(lostPrimary.GoalState, fsm.Dropped))
			} else {
				apply(lostPrimary, fsm.DemoteTimeout, fsm.CommentFor(lostPrimary.GoalState, fsm.DemoteTimeout))
			}
		}
		return changes
	}

	// Rule 7: LSN election resolution, once any node is sitting in
	// report_lsn.
	var candidates []*Node
	for _, n := range live {
		if n.GoalState == fsm.ReportLSN {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) > 0 {
		var eligible []*Node
		for _, n := range candidates {
			if n.CandidatePriority > 0 {
				eligible = append(eligible, n)
			}
		}
		allReported := len(eligible) > 0
		for _, n := range eligible {
			if n.ReportedState != fsm.ReportLSN || n.ReportedAt.Before(n.ElectionStartedAt) {
				allReported = false
				break
			}
		}
		if allReported {
			winner := electCandidate(eligible)
			ahead := isStrictlyAhead(winner, candidates)
			apply(winner, fsm.PreparePromotion, fsm.CommentFor(winner.GoalState, fsm.PreparePromotion))
			for _, n := range candidates {
				if n.NodeID == winner.NodeID {
					continue
				}
				if ahead {
					apply(n, fsm.JoinSecondary, fsm.CommentFor(n.GoalState, fsm.JoinSecondary))
				} else {
					apply(n, fsm.FastForward, fsm.CommentFor(n.GoalState, fsm.FastForward))
				}
			}
		}
		return changes
	}

	// Post-election follow-through: prepare_promotion -> stop_replication
	// -> wait_primary is driven purely by the winner's own reported state
	// catching up to its assigned goal, same as fast_forward/join_secondary
	// -> secondary below.
	for _, n := range live {
		switch {
		case n.GoalState == fsm.PreparePromotion && n.ReportedState == fsm.PreparePromotion:
			apply(n, fsm.StopReplication, fsm.CommentFor(n.GoalState, fsm.StopReplication))
		case n.GoalState == fsm.StopReplication && n.ReportedState == fsm.StopReplication:
			apply(n, fsm.WaitPrimary, fsm.CommentFor(n.GoalState, fsm.WaitPrimary))
		case n.GoalState == fsm.FastForward && n.ReportedState == fsm.FastForward:
			apply(n, fsm.JoinSecondary, fsm.CommentFor(n.GoalState, fsm.JoinSecondary))
		case n.GoalState == fsm.JoinSecondary && n.ReportedState == fsm.JoinSecondary:
			apply(n, fsm.Secondary, fsm.CommentFor(n.GoalState, fsm.Secondary))
		case n.GoalState == fsm.DemoteTimeout && n.ReportedState == fsm.DemoteTimeout:
			apply(n, fsm.Demoted, fsm.CommentFor(n.GoalState, fsm.Demoted))
		case n.GoalState == fsm.Demoted && n.ReportedState == fsm.Demoted:
			apply(n, fsm.CatchingUp, fsm.CommentFor(n.GoalState, fsm.CatchingUp))
		}
	}
	if inFailover {
		return changes
	}

	primary := currentPrimary(live)

	// Admit second node: a lone single primary gets a goal of wait_primary
	// as soon as a second live node exists in the group; this is evaluated
	// eagerly (including from register_node's own call into evaluateGroup),
	// so a node_active reporting 'single' can be answered with
	// wait_primary on the very next call rather than needing the standby to
	// report in first.
	if primary != nil && primary.ReportedState == fsm.Single && len(live) >= 2 {
		apply(primary, fsm.WaitPrimary, fsm.CommentFor(primary.GoalState, fsm.WaitPrimary))
	}

	// Rule 3 (base backup & catch-up) for every standby.
	for _, n := range live {
		if primary == nil || n.NodeID == primary.NodeID {
			continue
		}
		switch n.ReportedState {
		case fsm.WaitStandby:
			if primary.ReportedState == fsm.WaitPrimary || primary.ReportedState == fsm.Primary {
				apply(n, fsm.CatchingUp, fsm.CommentFor(n.GoalState, fsm.CatchingUp))
			}
		case fsm.CatchingUp:
			if caughtUpEnough(formation, primary, n, catchupSlack) {
				apply(n, fsm.Secondary, fsm.CommentFor(n.GoalState, fsm.Secondary))
			}
		}
	}

	// Rule 9: maintenance. A standby flagged by SetNodeMaintenance is
	// walked wait_maintenance -> maintenance while the flag stays set,
	// and back out through catchingup (rejoining rule 3's normal
	// catch-up path into secondary) once it's cleared. The primary's own
	// maintenance request is handled above: it never reaches this block
	// because it goes through the failover branch first.
	for _, n := range live {
		if primary != nil && n.NodeID == primary.NodeID {
			continue
		}
		switch {
		case n.MaintenanceRequested && n.GoalState == fsm.Secondary:
			apply(n, fsm.WaitMaintenance, fsm.CommentFor(n.GoalState, fsm.WaitMaintenance))
		case n.MaintenanceRequested && n.GoalState == fsm.WaitMaintenance && n.ReportedState == fsm.WaitMaintenance:
			apply(n, fsm.Maintenance, fsm.CommentFor(n.GoalState, fsm.Maintenance))
		case !n.MaintenanceRequested && n.GoalState == fsm.Maintenance && n.ReportedState == fsm.Maintenance:
			apply(n, fsm.CatchingUp, fsm.CommentFor(n.GoalState, fsm.CatchingUp))
		}
	}

	// Reach synchronous: gate wait_primary <-> primary on the count of
	// peers currently *reporting* secondary — a standby that drops out of
	// secondary (lag regrows, connection hiccup) immediately stops
	// counting even though its goal hasn't been revised yet.
	if primary != nil {
		secondaries := 0
		for _, n := range live {
			if n.NodeID != primary.NodeID && n.ReportedState == fsm.Secondary && n.GoalState == fsm.Secondary {
				secondaries++
			}
		}
		switch {
		case primary.GoalState == fsm.WaitPrimary && secondaries >= formation.NumberSyncStandbys:
			apply(primary, fsm.Primary, fsm.CommentFor(primary.GoalState, fsm.Primary))
		case primary.GoalState == fsm.Primary && secondaries < formation.NumberSyncStandbys:
			apply(primary, fsm.WaitPrimary, fsm.CommentFor(primary.GoalState, fsm.WaitPrimary))
		}
	}

	return changes
}

// currentPrimaryIs reports whether nodeID is (or was, before removal) the
// group's writable node, searching the full node list so a being-removed
// primary is still found even though it has already been excluded from
// `live`.
func currentPrimaryIs(nodes []*Node, nodeID int64) bool {
	for _, n := range nodes {
		if n.NodeID == nodeID {
			return fsm.IsWritable(n.GoalState)
		}
	}
	return false
}

// caughtUpEnough implements rule 3's catch-up predicate: LSN gap within
// slack, and — when the formation demands synchronous standbys — the
// standby must also be reporting sync/quorum replication state.
func caughtUpEnough(formation *Formation, primary, standby *Node, catchupSlack uint64) bool {
	if primary.ReportedLSN < standby.ReportedLSN {
		return true // standby can't be "behind" a stale primary report
	}
	lagOK := primary.ReportedLSN-standby.ReportedLSN <= catchupSlack
	if !lagOK {
		return false
	}
	if formation.NumberSyncStandbys > 0 {
		return standby.ReportedReplicationState == ReplicationSync || standby.ReportedReplicationState == ReplicationQuorum
	}
	return true
}
