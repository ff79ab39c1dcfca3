package keeper

import (
	"fmt"

	"github.com/jackc/pgx"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

// SlotName returns the deterministic replication slot name for a peer, per
// §5's naming convention: unique across restarts because it's derived from
// the monitor-assigned node_id rather than a hostname or timestamp.
func SlotName(peerNodeID int64) string {
	return fmt.Sprintf("pgautofailover_standby_%d", peerNodeID)
}

// Actions is the pgx-backed implementation of every keeper transition
// action named in fsm.Action, grounded on pgsql.c's
// pgsql_create_replication_slot / pgsql_enable_synchronous_replication /
// pgsql_disable_synchronous_replication / pgsql_drop_replication_slot and
// the pg_ctl promote / pg_rewind invocations described around them. Every
// method is idempotent: re-running the same action against a database
// already in the target condition must succeed without error, since the
// keeper re-runs the current (reported, goal) pair on every retry.
type Actions struct {
	conn *pgx.Conn
}

// NewActions wraps an already-open connection to the local instance. The
// keeper loop owns the connection's lifetime; Actions never closes it.
func NewActions(conn *pgx.Conn) *Actions {
	return &Actions{conn: conn}
}

// Run dispatches to the method matching action. No-op actions succeed
// trivially — not every (from, to) pair in fsm.Table needs local work, see
// catchingup -> secondary. An unrecognized action is a KindUnknown error.
func (a *Actions) Run(action fsm.Action, peerNodeIDs []int64) error {
	switch action {
	case fsm.ActionNoop:
		return nil
	case fsm.ActionInitPrimary:
		return a.initPrimary()
	case fsm.ActionInitStandby:
		return a.initStandby()
	case fsm.ActionEnableReplication:
		return a.enableReplication(peerNodeIDs)
	case fsm.ActionDisableReplication:
		return a.disableReplication(peerNodeIDs)
	case fsm.ActionEnableSync:
		return a.enableSynchronousReplication()
	case fsm.ActionDisableSync:
		return a.disableSynchronousReplication()
	case fsm.ActionBaseBackup:
		return a.baseBackup()
	case fsm.ActionReportLSN:
		return nil // the keeper loop itself reports LSN via Probe, nothing local to do
	case fsm.ActionStopReplication:
		return a.stopReplication()
	case fsm.ActionPromote:
		return a.promote()
	case fsm.ActionDemote:
		return a.demote()
	case fsm.ActionFastForward:
		return a.fastForward()
	case fsm.ActionMaintenanceOn:
		return a.maintenanceOn()
	case fsm.ActionMaintenanceOff:
		return a.maintenanceOff()
	case fsm.ActionDrain:
		return a.drain()
	case fsm.ActionDropNode:
		return a.dropNode(peerNodeIDs)
	default:
		return wrapErr(KindUnknown, fmt.Errorf("unrecognized action %q", action))
	}
}

// initPrimary covers init -> single: ensure the data directory is
// initialized and Postgres accepting writes. initdb/start themselves are
// OS-process plumbing (§1 Non-goals: "direct database command wrappers");
// here that means the connection already exists by the time Actions is
// constructed, and this method only has to confirm the instance isn't in
// recovery.
func (a *Actions) initPrimary() error {
	var inRecovery bool
	if err := a.conn.QueryRow("select pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return wrapErr(KindDatabaseOperational, err)
	}
	if inRecovery {
		return wrapErr(KindInvariantViolation, fmt.Errorf("node assigned single/primary but Postgres reports it is in recovery"))
	}
	return nil
}

// initStandby covers init -> wait_standby: nothing to do locally until the
// primary creates a slot for this node and the standby runs baseBackup;
// wait_standby itself just means "I exist and am waiting".
func (a *Actions) initStandby() error {
	return nil
}

// enableReplication covers single -> wait_primary: create a physical
// replication slot for each incoming peer so none of their WAL is
// recycled before they attach, mirroring pgsql_create_replication_slot.
// Creating a slot that already exists is tolerated (idempotence).
func (a *Actions) enableReplication(peerNodeIDs []int64) error {
	for _, peer := range peerNodeIDs {
		slot := SlotName(peer)
		var exists bool
		err := a.conn.QueryRow("select exists(select 1 from pg_replication_slots where slot_name = $1)", slot).Scan(&exists)
		if err != nil {
			return wrapErr(KindDatabaseOperational, err)
		}
		if exists {
			continue
		}
		if _, err := a.conn.Exec("select pg_create_physical_replication_slot($1)", slot); err != nil {
			return wrapErr(KindDatabaseOperational, fmt.Errorf("create replication slot %q: %w", slot, err))
		}
	}
	return nil
}

// disableReplication covers primary/wait_primary -> single (a peer was
// forcibly removed, this node reverts to solo): drop every replication
// slot this node was holding open.
func (a *Actions) disableReplication(peerNodeIDs []int64) error {
	for _, peer := range peerNodeIDs {
		slot := SlotName(peer)
		if _, err := a.conn.Exec(
			"select pg_drop_replication_slot(slot_name) from pg_replication_slots where slot_name = $1", slot,
		); err != nil {
			return wrapErr(KindDatabaseOperational, fmt.Errorf("drop replication slot %q: %w", slot, err))
		}
	}
	return nil
}

// enableSynchronousReplication covers wait_primary -> primary, mirroring
// pgsql_enable_synchronous_replication's ALTER SYSTEM SET plus reload.
func (a *Actions) enableSynchronousReplication() error {
	return a.alterSystemSetAndReload("synchronous_standby_names", "'*'")
}

// disableSynchronousReplication covers primary -> wait_primary, mirroring
// pgsql_disable_synchronous_replication: clear the GUC, then unblock any
// backend currently parked waiting on a synchronous commit.
func (a *Actions) disableSynchronousReplication() error {
	if err := a.alterSystemSetAndReload("synchronous_standby_names", "''"); err != nil {
		return err
	}
	if _, err := a.conn.Exec(
		"select pg_cancel_backend(pid) from pg_stat_activity where wait_event = 'SyncRep'",
	); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("cancel backends waiting on synchronous commit: %w", err))
	}
	return nil
}

func (a *Actions) alterSystemSetAndReload(guc, value string) error {
	stmt := fmt.Sprintf("alter system set %s to %s", guc, value)
	if _, err := a.conn.Exec(stmt); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("alter system set %s: %w", guc, err))
	}
	if _, err := a.conn.Exec("select pg_reload_conf()"); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("reload config after setting %s: %w", guc, err))
	}
	return nil
}

// baseBackup covers wait_standby -> catchingup: in the real system this
// shells out to pg_basebackup against the primary and rewrites the
// recovery configuration; that OS-process plumbing is out of scope per §1,
// so this method does no local work and always succeeds. Whether the
// instance is in recovery is reported by the keeper loop's own Probe call.
func (a *Actions) baseBackup() error {
	return nil
}

// stopReplication covers prepare_promotion -> stop_replication: if the
// instance is still in recovery it pauses WAL replay; an instance already
// out of recovery is left as it is. It does not check that all WAL sent by
// the old primary has been received, and it does not close the replication
// connection.
func (a *Actions) stopReplication() error {
	var inRecovery bool
	if err := a.conn.QueryRow("select pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return wrapErr(KindDatabaseOperational, err)
	}
	if !inRecovery {
		return nil // already promoted by an earlier, interrupted attempt at this same action
	}
	if _, err := a.conn.Exec("select pg_wal_replay_pause()"); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("pause replay before promotion: %w", err))
	}
	return nil
}

// promote covers stop_replication -> wait_primary: pg_ctl promote's SQL
// equivalent is ending recovery; a standby already promoted by a previous
// attempt reports success again rather than erroring.
func (a *Actions) promote() error {
	var inRecovery bool
	if err := a.conn.QueryRow("select pg_is_in_recovery()").Scan(&inRecovery); err != nil {
		return wrapErr(KindDatabaseOperational, err)
	}
	if !inRecovery {
		return nil
	}
	if _, err := a.conn.Exec("select pg_promote(wait := true)"); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("promote: %w", err))
	}
	return nil
}

// demote covers * -> demote/demoted: stop accepting writes. Since this
// core does not own process lifecycle (§1 Non-goals), "stop accepting
// writes" means the local role is no longer treated as primary by the
// keeper's own bookkeeping; a real demote that needs to restart the
// postmaster in recovery mode is OS-process plumbing handled outside this
// package.
func (a *Actions) demote() error {
	return a.disableSynchronousReplication()
}

// fastForward covers demoted -> catchingup or report_lsn -> fast_forward:
// pg_rewind itself is an external binary invocation (§1 Non-goals); this
// method is the hook point a real keeper would shell out from, and today
// only validates that the instance is reachable before the caller restarts
// streaming against the new primary.
func (a *Actions) fastForward() error {
	var one int
	if err := a.conn.QueryRow("select 1").Scan(&one); err != nil {
		return wrapErr(KindDatabaseOperational, err)
	}
	return nil
}

// maintenanceOn covers wait_maintenance -> maintenance: pause
// WAL replay so the standby stops changing state while an operator works
// on it, without tearing down the replication connection.
func (a *Actions) maintenanceOn() error {
	if _, err := a.conn.Exec("select pg_wal_replay_pause()"); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("pause replay for maintenance: %w", err))
	}
	return nil
}

// maintenanceOff covers maintenance -> catchingup: resume WAL replay.
func (a *Actions) maintenanceOff() error {
	if _, err := a.conn.Exec("select pg_wal_replay_resume()"); err != nil {
		return wrapErr(KindDatabaseOperational, fmt.Errorf("resume replay after maintenance: %w", err))
	}
	return nil
}

// drain covers primary/wait_primary -> draining: the point at which a
// failover has been triggered and this node must stop being trusted as
// primary even though it hasn't heard about it yet, by the same
// disable-sync-replication path as demote (no new writes should be
// waiting on a standby that may already have been re-elected elsewhere).
func (a *Actions) drain() error {
	return a.disableSynchronousReplication()
}

// dropNode covers any state -> dropped: best-effort cleanup of slots this
// node was holding for peers, since the node is leaving the group for
// good and nothing will reuse them.
func (a *Actions) dropNode(peerNodeIDs []int64) error {
	return a.disableReplication(peerNodeIDs)
}
