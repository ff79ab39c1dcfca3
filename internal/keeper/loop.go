// Package keeper implements the keeper agent: the long-lived per-node loop
// that probes the local instance, calls node_active on the monitor, and
// drives the local database toward whatever goal state comes back.
package keeper

import (
	"context"
	"time"

	"go.uber.org/atomic"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

// DefaultLoopInterval is how often the keeper probes and reports, absent
// any other configuration — several of these make up
// DefaultNetworkPartitionTimeout on the monitor side.
const DefaultLoopInterval = 3 * time.Second

// Logger is the minimal surface Loop needs from shmnlog.Logger, kept as an
// interface here so tests can supply a no-op logger without pulling in zap.
type Logger interface {
	Infof(string, ...interface{})
	Warnf(string, ...interface{})
	Errorf(string, ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

// Prober is the subset of LocalProbe's behavior the loop depends on,
// narrowed to an interface so tests can fake the local instance.
type Prober interface {
	Probe() (Report, error)
}

// Runner is the subset of Actions' behavior the loop depends on.
type Runner interface {
	Run(action fsm.Action, peerNodeIDs []int64) error
}

// Loop is one keeper's complete per-node runtime: everything §2.2 and §4.2
// describe as "probe, call node_active, run the transition, sleep".
type Loop struct {
	FormationID string
	NodeID      int64
	GroupID     int
	SystemID    int64

	Monitor MonitorClient
	Probe   Prober
	Actions Runner // nil is valid: the loop still converges reported state, it just skips local actions (used by tests and by a keeper not yet attached to a real instance)

	LoopInterval time.Duration
	StatePath    string
	Logger       Logger

	sleep func(context.Context, time.Duration)

	// askedToStop is the cooperative stop flag §5 describes: set from a
	// SIGINT/SIGTERM handler, checked at every suspension point (here,
	// once per loop iteration, right before the sleep).
	askedToStop *atomic.Bool

	reportedState fsm.State
	lastGoal      fsm.State
}

// NewLoop builds a Loop with production defaults (wall clock, real sleep).
func NewLoop(formationID string, nodeID int64, groupID int, systemID int64, monitor MonitorClient, probe Prober, actions Runner) *Loop {
	return &Loop{
		FormationID:  formationID,
		NodeID:       nodeID,
		GroupID:      groupID,
		SystemID:     systemID,
		Monitor:      monitor,
		Probe:        probe,
		Actions:      actions,
		LoopInterval: DefaultLoopInterval,
		Logger:       nopLogger{},
		sleep:        ctxSleep,
		askedToStop:  atomic.NewBool(false),
		reportedState: fsm.Init,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// AskToStop sets the cooperative stop flag; Run exits at its next
// suspension point rather than mid-transition.
func (l *Loop) AskToStop() {
	l.askedToStop.Store(true)
}

// Register performs the one-time register_node call a keeper makes the
// first time it starts against a given monitor ("pg_autoctl create
// postgres"), and adopts the assigned node_id/group_id/name so subsequent
// Tick calls address the right node.
func (l *Loop) Register(host string, port int, dbname string, priority int, quorum bool) (*catalog.Node, error) {
	n, err := l.Monitor.RegisterNode(l.FormationID, host, port, dbname, l.SystemID, priority, quorum)
	if err != nil {
		return nil, err
	}
	l.NodeID = n.NodeID
	l.GroupID = n.GroupID
	l.reportedState = fsm.Init
	l.lastGoal = n.GoalState
	return n, nil
}

// Run executes the keeper loop until ctx is cancelled or AskToStop is
// called. Each iteration is one probe/node_active/transition/sleep cycle;
// errors within an iteration never stop the loop itself (§7: "keepers
// never crash on transient errors") — Tick already applies that
// classification, Run just keeps calling it.
func (l *Loop) Run(ctx context.Context) error {
	for {
		if l.askedToStop.Load() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := l.Tick(); err != nil {
			l.Logger.Warnf("keeper tick failed: %v", err)
		}

		if l.askedToStop.Load() {
			return nil
		}
		l.sleep(ctx, l.interval())
	}
}

func (l *Loop) interval() time.Duration {
	if l.LoopInterval > 0 {
		return l.LoopInterval
	}
	return DefaultLoopInterval
}

// Tick runs exactly one probe/node_active/transition cycle. Exported so
// tests (and a single-shot "pg_autoctl do" command) can drive it without
// the sleep loop around it.
func (l *Loop) Tick() error {
	report, err := l.Probe.Probe()
	if err != nil {
		// A probe failure that isn't itself a KindDatabaseOperational error
		// (LocalProbe.Probe never returns one for "Postgres just isn't up")
		// still must not stop the loop: report "not running" upstream
		// rather than skipping the heartbeat entirely.
		if !Retryable(err) {
			return err
		}
		l.Logger.Warnf("local probe failed, reporting not-running: %v", err)
		report = Report{PgIsRunning: false}
	}

	if report.SystemIdentifier != 0 {
		if _, err := l.Monitor.SetNodeSystemIdentifier(l.NodeID, report.SystemIdentifier); err != nil {
			if classify(err).Kind == KindInvariantViolation {
				return err // fatal: §7 halts transitions on system_identifier mismatch
			}
			l.Logger.Warnf("set_node_system_identifier failed: %v", err)
		}
	}

	reported := l.reportedState
	if reported == "" {
		reported = fsm.Init
	}

	node, err := l.Monitor.NodeActive(l.FormationID, l.NodeID, l.GroupID, reported, report.LSN, report.PgIsRunning, report.ReplicationState)
	if err != nil {
		if classify(err).Kind == KindInvariantViolation {
			return err // fenced: halt, don't retry this node's transitions
		}
		l.Logger.Warnf("node_active failed: %v", err)
		return nil
	}

	goal := node.GoalState
	if goal != l.lastGoal {
		l.Logger.Infof("assigned goal state %q (was %q)", goal, l.lastGoal)
	}

	if l.Actions != nil && reported != goal {
		t, ok := fsm.Lookup(reported, goal)
		action := fsm.ActionNoop
		if ok {
			action = t.Action
		}
		peers, err := l.Monitor.GetOtherNodes(l.NodeID)
		if err != nil {
			l.Logger.Warnf("get_other_nodes failed: %v", err)
		}
		peerIDs := peerNodeIDs(peers)
		if err := l.Actions.Run(action, peerIDs); err != nil {
			if !Retryable(err) {
				return err // fatal: e.g. corrupt data directory, halt transitions
			}
			l.Logger.Warnf("transition action %q failed, will retry: %v", action, err)
			return nil // reported state left unchanged, retried next tick
		}
	}

	// Only advance reportedState once the action (if any) succeeded —
	// this is what makes re-running the same transition on a retry safe:
	// the keeper keeps presenting its old reported state until the local
	// action actually converges.
	l.reportedState = goal
	l.lastGoal = goal

	if l.StatePath != "" {
		if err := SaveState(l.StatePath, State{
			FormationID:  l.FormationID,
			NodeID:       l.NodeID,
			GroupID:      l.GroupID,
			CurrentState: goal,
		}); err != nil {
			l.Logger.Warnf("save state file failed: %v", err)
		}
	}

	return nil
}

func peerNodeIDs(nodes []*catalog.Node) []int64 {
	ids := make([]int64, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.NodeID)
	}
	return ids
}
