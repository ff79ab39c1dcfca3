package keeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

type fakeMonitor struct {
	goal        fsm.State
	nodeActive  []fsm.State // records every reported state passed to NodeActive
	sysIDErr    error
	nodeActiveErr error
	others      []*catalog.Node
}

func (f *fakeMonitor) RegisterNode(formationID, host string, port int, dbname string, systemID int64, priority int, quorum bool) (*catalog.Node, error) {
	return &catalog.Node{NodeID: 1, GroupID: 0, GoalState: fsm.Single}, nil
}

func (f *fakeMonitor) NodeActive(formationID string, nodeID int64, groupID int, reported fsm.State, lsn uint64, pgIsRunning bool, replState catalog.ReplicationState) (*catalog.Node, error) {
	f.nodeActive = append(f.nodeActive, reported)
	if f.nodeActiveErr != nil {
		return nil, f.nodeActiveErr
	}
	return &catalog.Node{NodeID: nodeID, GroupID: groupID, GoalState: f.goal, ReportedState: reported}, nil
}

func (f *fakeMonitor) SetNodeSystemIdentifier(nodeID, systemID int64) (*catalog.Node, error) {
	if f.sysIDErr != nil {
		return nil, f.sysIDErr
	}
	return &catalog.Node{NodeID: nodeID, SystemIdentifier: systemID}, nil
}

func (f *fakeMonitor) GetOtherNodes(nodeID int64) ([]*catalog.Node, error) {
	return f.others, nil
}

type fakeProbeTick struct {
	report Report
	err    error
}

func (f fakeProbeTick) Probe() (Report, error) { return f.report, f.err }

type fakeRunner struct {
	ran []fsm.Action
	err error
}

func (f *fakeRunner) Run(action fsm.Action, peers []int64) error {
	f.ran = append(f.ran, action)
	return f.err
}

func TestLoop_TickAdvancesReportedStateOnlyOnActionSuccess(t *testing.T) {
	mon := &fakeMonitor{goal: fsm.Single}
	probe := fakeProbeTick{report: Report{PgIsRunning: true, SystemIdentifier: 42, LSN: 100}}
	runner := &fakeRunner{}
	l := NewLoop("default", 1, 0, 0, mon, probe, runner)

	require.NoError(t, l.Tick())
	assert.Equal(t, fsm.Single, l.reportedState)
	assert.Equal(t, []fsm.State{fsm.Init}, mon.nodeActive, "first tick must report init, the loop's starting state")
}

func TestLoop_RetryableActionErrorLeavesReportedStateUnchanged(t *testing.T) {
	mon := &fakeMonitor{goal: fsm.WaitPrimary}
	probe := fakeProbeTick{report: Report{PgIsRunning: true}}
	runner := &fakeRunner{err: wrapErr(KindDatabaseOperational, assert.AnError)}
	l := NewLoop("default", 1, 0, 0, mon, probe, runner)
	l.reportedState = fsm.Single

	err := l.Tick()
	require.NoError(t, err, "a retryable action error must not fail Tick, only skip the advance")
	assert.Equal(t, fsm.Single, l.reportedState, "reported state stays put until the action converges")
}

func TestLoop_FatalActionErrorHaltsTransitions(t *testing.T) {
	mon := &fakeMonitor{goal: fsm.WaitPrimary}
	probe := fakeProbeTick{report: Report{PgIsRunning: true}}
	runner := &fakeRunner{err: wrapErr(KindInvariantViolation, assert.AnError)}
	l := NewLoop("default", 1, 0, 0, mon, probe, runner)
	l.reportedState = fsm.Single

	err := l.Tick()
	assert.Error(t, err)
	assert.Equal(t, fsm.Single, l.reportedState)
}

func TestLoop_SystemIdentifierMismatchIsFatal(t *testing.T) {
	mon := &fakeMonitor{goal: fsm.Single, sysIDErr: wrapErr(KindInvariantViolation, catalog.ErrSystemIdentifierMismatch)}
	probe := fakeProbeTick{report: Report{PgIsRunning: true, SystemIdentifier: 7}}
	l := NewLoop("default", 1, 0, 7, mon, probe, nil)

	err := l.Tick()
	assert.Error(t, err)
}

func TestLoop_ProbeDownIsReportedNotFatal(t *testing.T) {
	mon := &fakeMonitor{goal: fsm.Single}
	probe := fakeProbeTick{report: Report{PgIsRunning: false}}
	l := NewLoop("default", 1, 0, 0, mon, probe, nil)

	require.NoError(t, l.Tick())
	assert.False(t, mon.nodeActive == nil)
}
