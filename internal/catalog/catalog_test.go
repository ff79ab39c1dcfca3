package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

type fakeProber struct {
	bad map[string]bool
}

func (f *fakeProber) Probe(host string, port int) error {
	if f.bad[host] {
		return errDown
	}
	return nil
}

var errDown = assert.AnError

func newTestCatalog(clock *time.Time) (*Catalog, *fakeProber) {
	fp := &fakeProber{bad: map[string]bool{}}
	c := NewCatalog(
		WithClock(func() time.Time { return *clock }),
		WithNetworkPartitionTimeout(5*time.Second),
		WithProber(fp),
	)
	return c, fp
}

// Scenario A: a single node becomes a primary, a second node joins and is
// driven all the way to secondary, and the primary only becomes fully
// writable once a sync standby exists.
func TestScenarioA_SingleToPrimaryStandby(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	n1, err := c.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	assert.Equal(t, fsm.Single, n1.GoalState)

	n1, err = c.NodeActive("default", n1.NodeID, n1.GroupID, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Single, n1.GoalState)

	n2, err := c.RegisterNode("default", "node2", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	assert.Equal(t, fsm.WaitStandby, n2.GoalState)

	n1, err = c.NodeActive("default", n1.NodeID, n1.GroupID, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.WaitPrimary, n1.GoalState, "primary must be nudged off single once a second node exists")

	n1, err = c.NodeActive("default", n1.NodeID, n1.GroupID, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.WaitPrimary, n1.GoalState)

	n2, err = c.NodeActive("default", n2.NodeID, n2.GroupID, fsm.WaitStandby, 0, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.CatchingUp, n2.GoalState)

	n2, err = c.NodeActive("default", n2.NodeID, n2.GroupID, fsm.CatchingUp, 100, true, ReplicationSync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Secondary, n2.GoalState)

	n2, err = c.NodeActive("default", n2.NodeID, n2.GroupID, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Secondary, n2.GoalState)

	n1, err = c.NodeActive("default", n1.NodeID, n1.GroupID, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Primary, n1.GoalState, "primary becomes fully writable once a sync standby exists")
}

// Scenario B: removing the only node leaves the group without a writable
// node and get_primary errors.
func TestScenarioB_RemoveOnlyNode(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain}))

	n1, err := c.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)

	ok, err := c.RemoveNode(n1.NodeID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.GetPrimary("default", 0)
	assert.ErrorIs(t, err, ErrNoWritableNode)
}

// Scenario C: the higher-LSN standby wins an election over a lower-LSN,
// lower-priority one, and the loser, strictly behind the winner's LSN,
// goes straight to join_secondary rather than through fast_forward.
func TestScenarioC_FailoverElection(t *testing.T) {
	now := time.Now()
	c, fp := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	primary, _ := c.RegisterNode("default", "primary", 5432, "postgres", 0, 100, true)
	standbyA, _ := c.RegisterNode("default", "standbyA", 5432, "postgres", 0, 100, true)
	standbyB, _ := c.RegisterNode("default", "standbyB", 5432, "postgres", 0, 50, true)

	_, err := c.NodeActive("default", primary.NodeID, 0, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standbyA.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standbyB.NodeID, 0, fsm.Secondary, 90, true, ReplicationSync)
	require.NoError(t, err)

	fp.bad["primary"] = true
	later := now.Add(10 * time.Second)
	now = later
	c.CheckHealth()

	a, err := c.NodeActive("default", standbyA.NodeID, 0, fsm.ReportLSN, 100, true, ReplicationAsync)
	require.NoError(t, err)
	b, err := c.NodeActive("default", standbyB.NodeID, 0, fsm.ReportLSN, 90, true, ReplicationAsync)
	require.NoError(t, err)
	_ = a
	_ = b

	c.CheckHealth()

	events := c.GetEvents("default", 0, 50)
	var sawPreparePromotion, sawJoinSecondary bool
	for _, e := range events {
		if e.NodeID == standbyA.NodeID && e.Goal == fsm.PreparePromotion {
			sawPreparePromotion = true
		}
		if e.NodeID == standbyB.NodeID && e.Goal == fsm.JoinSecondary {
			sawJoinSecondary = true
		}
	}
	assert.True(t, sawPreparePromotion, "highest-LSN standby should win the election")
	assert.True(t, sawJoinSecondary, "loser strictly behind the winner's LSN can rejoin by plain streaming")
}

// TestElectionTieGoesThroughFastForward covers the ambiguous-fork case: two
// candidates report the same LSN, so the tie-break (priority, then node_id)
// picks a winner, but the loser cannot be assumed to be a clean ancestor of
// the winner's timeline and must fast_forward instead of joining directly.
func TestElectionTieGoesThroughFastForward(t *testing.T) {
	now := time.Now()
	c, fp := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	primary, _ := c.RegisterNode("default", "primary", 5432, "postgres", 0, 100, true)
	standbyA, _ := c.RegisterNode("default", "standbyA", 5432, "postgres", 0, 100, true)
	standbyB, _ := c.RegisterNode("default", "standbyB", 5432, "postgres", 0, 50, true)

	_, err := c.NodeActive("default", primary.NodeID, 0, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standbyA.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standbyB.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)

	fp.bad["primary"] = true
	now = now.Add(10 * time.Second)
	c.CheckHealth()

	_, err = c.NodeActive("default", standbyA.NodeID, 0, fsm.ReportLSN, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standbyB.NodeID, 0, fsm.ReportLSN, 100, true, ReplicationAsync)
	require.NoError(t, err)

	events := c.GetEvents("default", 0, 50)
	var sawFastForward bool
	for _, e := range events {
		if e.NodeID == standbyB.NodeID && e.Goal == fsm.FastForward {
			sawFastForward = true
		}
	}
	assert.True(t, sawFastForward, "tied loser must fast_forward rather than join directly")
}

// Scenario D: once a system_identifier is set it must not change.
func TestScenarioD_SystemIdentifierFencing(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain}))
	n1, _ := c.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)

	_, err := c.SetNodeSystemIdentifier(n1.NodeID, 111)
	require.NoError(t, err)

	_, err = c.SetNodeSystemIdentifier(n1.NodeID, 222)
	assert.ErrorIs(t, err, ErrSystemIdentifierMismatch)
}

// Scenario E: a standby that regresses out of secondary immediately stops
// counting toward the sync-standby quorum, dropping the primary back to
// wait_primary.
func TestScenarioE_SyncStandbyRegression(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	primary, _ := c.RegisterNode("default", "primary", 5432, "postgres", 0, 100, true)
	standby, _ := c.RegisterNode("default", "standby", 5432, "postgres", 0, 100, true)

	_, err := c.NodeActive("default", primary.NodeID, 0, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.WaitStandby, 0, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.CatchingUp, 100, true, ReplicationSync)
	require.NoError(t, err)
	p, err := c.NodeActive("default", standby.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	_ = p

	p, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Primary, p.GoalState)

	p, err = c.NodeActive("default", standby.NodeID, 0, fsm.CatchingUp, 50, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Secondary, p.GoalState, "standby's own goal does not change on a reported regression")

	p, err = c.NodeActive("default", primary.NodeID, 0, fsm.Primary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.WaitPrimary, p.GoalState, "primary drops back once no peer is reporting secondary")
}

// Rule 9: a standby asked for maintenance is walked through
// wait_maintenance -> maintenance and, once the operator clears the flag,
// back out through catchingup.
func TestScenarioMaintenance_StandbyRoundTrip(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	primary, _ := c.RegisterNode("default", "primary", 5432, "postgres", 0, 100, true)
	standby, _ := c.RegisterNode("default", "standby", 5432, "postgres", 0, 100, true)

	_, err := c.NodeActive("default", primary.NodeID, 0, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.WaitStandby, 0, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.CatchingUp, 100, true, ReplicationSync)
	require.NoError(t, err)
	s, err := c.NodeActive("default", standby.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	require.Equal(t, fsm.Secondary, s.GoalState)

	require.NoError(t, c.SetNodeMaintenance(standby.NodeID, true))
	s, err = c.NodeActive("default", standby.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	assert.Equal(t, fsm.WaitMaintenance, s.GoalState)

	s, err = c.NodeActive("default", standby.NodeID, 0, fsm.WaitMaintenance, 100, true, ReplicationSync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Maintenance, s.GoalState)

	require.NoError(t, c.SetNodeMaintenance(standby.NodeID, false))
	s, err = c.NodeActive("default", standby.NodeID, 0, fsm.Maintenance, 100, true, ReplicationSync)
	require.NoError(t, err)
	assert.Equal(t, fsm.CatchingUp, s.GoalState, "maintenance disable sends the standby back through catch-up")
}

// Rule 9's primary path: asking the current primary for maintenance must
// trigger a controlled failover rather than ever assigning it
// wait_maintenance/maintenance directly.
func TestScenarioMaintenance_PrimaryTriggersFailover(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))

	primary, _ := c.RegisterNode("default", "primary", 5432, "postgres", 0, 100, true)
	standby, _ := c.RegisterNode("default", "standby", 5432, "postgres", 0, 100, true)

	_, err := c.NodeActive("default", primary.NodeID, 0, fsm.Single, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.WaitStandby, 0, true, ReplicationAsync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.CatchingUp, 100, true, ReplicationSync)
	require.NoError(t, err)
	_, err = c.NodeActive("default", standby.NodeID, 0, fsm.Secondary, 100, true, ReplicationSync)
	require.NoError(t, err)
	p, err := c.NodeActive("default", primary.NodeID, 0, fsm.WaitPrimary, 100, true, ReplicationAsync)
	require.NoError(t, err)
	require.Equal(t, fsm.Primary, p.GoalState)

	require.NoError(t, c.SetNodeMaintenance(primary.NodeID, true))

	c.mu.Lock()
	nodes := c.nodesInGroupLocked("default", 0)
	c.mu.Unlock()
	var gotDemoteTimeout, gotReportLSN bool
	for _, n := range nodes {
		if n.NodeID == primary.NodeID && n.GoalState == fsm.DemoteTimeout {
			gotDemoteTimeout = true
		}
		if n.NodeID == standby.NodeID && n.GoalState == fsm.ReportLSN {
			gotReportLSN = true
		}
	}
	assert.True(t, gotDemoteTimeout, "maintenance on the primary must demote it via the normal failover path")
	assert.True(t, gotReportLSN, "the standby must be pulled into the election rather than sent straight to maintenance")
}

func TestInvariant_AtMostOneWritablePerGroup(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain}))

	n1, _ := c.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	n2, _ := c.RegisterNode("default", "node2", 5432, "postgres", 0, 100, true)

	c.mu.Lock()
	nodes := c.nodesInGroupLocked("default", 0)
	err := checkInvariants(nodes)
	c.mu.Unlock()
	require.NoError(t, err)

	_ = n1
	_ = n2
}

func TestUnknownFormationAndNode(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)

	_, err := c.RegisterNode("ghost", "h", 1, "d", 0, 1, true)
	assert.ErrorIs(t, err, ErrUnknownFormation)

	_, err = c.NodeActive("default", 999, 0, fsm.Single, 0, true, ReplicationAsync)
	assert.ErrorIs(t, err, ErrUnknownNode)
}
