// Copyright (c) 2018, Postgres Professional

package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

// Catalog is the monitor's process-wide state: every formation, every node,
// the append-only event log, and the notification fan-out. Every mutating
// method below runs under a single mutex, which is this implementation's
// stand-in for "every node_active and every operator command runs in a
// serializable database transaction" — the catalog
// here plays the role the embedded database extension plays in the real
// system, and a single mutex is a legitimate serialization of "single
// writer per group" (coarser than per-group locking, but still
// serializable, and it keeps the whole rules engine a pure, easily tested
// function of one consistent snapshot).
type Catalog struct {
	mu sync.Mutex

	formations map[string]*Formation
	nodes      map[int64]*Node
	nextNodeID int64

	bus *eventBus

	now                     func() time.Time
	networkPartitionTimeout time.Duration
	catchupSlack            uint64
	prober                  Prober

	// pending manual perform_failover() flags, keyed by "formation/group".
	// perform_failover only sets a flag here; it's the next group
	// evaluation that actually follows the failover branch.
	failoverRequested map[string]bool
}

// Option configures a Catalog at construction time.
type Option func(*Catalog)

func WithClock(now func() time.Time) Option {
	return func(c *Catalog) { c.now = now }
}

func WithNetworkPartitionTimeout(d time.Duration) Option {
	return func(c *Catalog) { c.networkPartitionTimeout = d }
}

func WithCatchupSlack(lsn uint64) Option {
	return func(c *Catalog) { c.catchupSlack = lsn }
}

func WithProber(p Prober) Option {
	return func(c *Catalog) { c.prober = p }
}

func NewCatalog(opts ...Option) *Catalog {
	c := &Catalog{
		formations:              map[string]*Formation{},
		nodes:                   map[int64]*Node{},
		bus:                     newEventBus(),
		now:                     time.Now,
		networkPartitionTimeout: DefaultNetworkPartitionTimeout,
		catchupSlack:            1 << 20, // 1MB of WAL, a reasonable default "close enough"
		failoverRequested:       map[string]bool{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func groupKey(formationID string, groupID int) string {
	return fmt.Sprintf("%s/%d", formationID, groupID)
}

// AddFormation registers a formation. Formation lifecycle management (who
// creates formations, default formation provisioning) sits outside the
// keeper-facing RPC list, but something has to exist before register_node
// can place a node into it, so this is the monitor-operator-side entry
// point for that.
func (c *Catalog) AddFormation(f Formation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.formations[f.FormationID]; ok {
		return wrapf(ErrInvariantViolation, "formation %q already exists", f.FormationID)
	}
	fc := f
	c.formations[f.FormationID] = &fc
	return nil
}

// UpdateFormationSpec applies a JSON merge patch to a formation's mutable
// settings (number_sync_standbys, opt_secondary), the same
// strategicpatch.StrategicMergePatch idiom the teacher uses in
// internal/cluster/store.go's patchStolonSpec, just retargeted from
// StolonSpec onto Formation.
func (c *Catalog) UpdateFormationSpec(formationID string, patch []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.formations[formationID]
	if !ok {
		return wrapf(ErrUnknownFormation, "formation %q", formationID)
	}
	newf, err := patchFormation(f, patch)
	if err != nil {
		return err
	}
	*f = *newf
	return nil
}

func (c *Catalog) nodesInGroupLocked(formationID string, groupID int) []*Node {
	var out []*Node
	for _, n := range c.nodes {
		if n.FormationID == formationID && n.GroupID == groupID {
			out = append(out, n)
		}
	}
	return out
}

// commitGroupLocked runs the rules engine for one group and persists every
// resulting goal-state change as a catalog mutation plus an event plus a
// "state" notification. Must be called with c.mu held.
func (c *Catalog) commitGroupLocked(formationID string, groupID int, failoverRequested bool, removedNodeID int64) {
	f, ok := c.formations[formationID]
	if !ok {
		return
	}
	nodes := c.nodesInGroupLocked(formationID, groupID)
	now := c.now()
	changes := evaluateGroup(f, nodes, now, c.networkPartitionTimeout, c.catchupSlack, failoverRequested, removedNodeID)
	for _, ch := range changes {
		n, ok := c.nodes[ch.nodeID]
		if !ok {
			continue
		}
		// evaluateGroup already mutated n.GoalState in place (it operates
		// on the same *Node pointers stored in c.nodes); this just records
		// the bookkeeping the mutation itself doesn't carry.
		n.StateChangedAt = now
		c.bus.append(Event{
			Timestamp:   now,
			FormationID: n.FormationID,
			GroupID:     n.GroupID,
			NodeID:      n.NodeID,
			Reported:    n.ReportedState,
			Goal:        n.GoalState,
			Description: ch.comment,
		})
		eventsTotalMetric.WithLabelValues(n.FormationID, fmt.Sprintf("%d", n.GroupID)).Inc()
		c.bus.notify(Notification{FormationID: n.FormationID, GroupID: n.GroupID, NodeID: n.NodeID, GoalState: string(n.GoalState)})
	}
	hasPrimary := 0.0
	if currentPrimary(c.nodesInGroupLocked(formationID, groupID)) != nil {
		hasPrimary = 1.0
	}
	groupHasPrimaryMetric.WithLabelValues(formationID, fmt.Sprintf("%d", groupID)).Set(hasPrimary)
}

// RegisterNode implements register_node: assigns the next node_id, derives
// node_name, places the node at its correct initial state, and runs one
// rules pass so a second node immediately nudges an existing single
// primary toward wait_primary.
func (c *Catalog) RegisterNode(formationID, host string, port int, dbname string, systemID int64, priority int, quorum bool) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.formations[formationID]; !ok {
		return nil, wrapf(ErrUnknownFormation, "formation %q", formationID)
	}
	for _, n := range c.nodes {
		if n.FormationID == formationID && n.Host == host && n.Port == port {
			return nil, wrapf(ErrNodeExists, "host %s port %d in formation %q", host, port, formationID)
		}
	}

	groupID := c.pickGroupLocked(formationID)

	c.nextNodeID++
	id := c.nextNodeID
	now := c.now()

	initial := fsm.Init
	if len(c.nodesInGroupLocked(formationID, groupID)) == 0 {
		initial = fsm.Single
	} else {
		initial = fsm.WaitStandby
	}

	n := &Node{
		NodeID:            id,
		NodeName:          fmt.Sprintf("node_%d", id),
		FormationID:       formationID,
		GroupID:           groupID,
		Host:              host,
		Port:              port,
		SystemIdentifier:  systemID,
		CandidatePriority: priority,
		ReplicationQuorum: quorum,
		ReportedState:     fsm.Init,
		GoalState:         initial,
		Health:            HealthUnknown,
		StateChangedAt:    now,
		ReportedAt:        now,
	}
	c.nodes[id] = n

	c.commitGroupLocked(formationID, groupID, false, 0)
	return n, nil
}

// pickGroupLocked returns group 0 for plain formations (this core does not
// implement multi-group sharding placement — that is the "sharded"
// formation kind's concern and stays out of scope here).
func (c *Catalog) pickGroupLocked(formationID string) int {
	return 0
}

// NodeActive implements node_active: persists reported fields, checks the
// primary-lineage invariant, runs the rules engine, and returns the
// caller's new goal state plus its replication parameters.
func (c *Catalog) NodeActive(formationID string, nodeID int64, groupID int, reported fsm.State, reportedLSN uint64, pgIsRunning bool, replState ReplicationState) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, wrapf(ErrUnknownNode, "node %d", nodeID)
	}
	if n.FormationID != formationID || n.GroupID != groupID {
		return nil, wrapf(ErrUnknownNode, "node %d is not in formation %q group %d", nodeID, formationID, groupID)
	}
	if !fsm.Valid(reported) {
		return nil, wrapf(ErrInvariantViolation, "node %d reported invalid state %q", nodeID, reported)
	}

	now := c.now()
	n.ReportedState = reported
	n.ReportedLSN = reportedLSN
	n.ReportedPgIsRunning = pgIsRunning
	n.ReportedReplicationState = replState
	n.ReportedAt = now

	if reported == fsm.Primary && !fsm.InPrimaryLineage(n.GoalState) {
		c.bus.append(Event{
			Timestamp:   now,
			FormationID: n.FormationID,
			GroupID:     n.GroupID,
			NodeID:      n.NodeID,
			Reported:    n.ReportedState,
			Goal:        n.GoalState,
			Description: "fencing: node reports primary but goal is not in the primary lineage",
		})
		return nil, wrapf(ErrInvariantViolation, "node %d reports primary while goal is %q", nodeID, n.GoalState)
	}

	key := groupKey(formationID, groupID)
	failover := c.failoverRequested[key]
	if failover {
		delete(c.failoverRequested, key)
	}
	c.commitGroupLocked(formationID, groupID, failover, 0)

	return n, nil
}

// SetNodeSystemIdentifier implements set_node_system_identifier. The first
// call for a node sets system_identifier; every subsequent call must report
// the same value or the node is fenced with ErrSystemIdentifierMismatch —
// this is the call through which the keeper repeats its system identifier
// every loop, since node_active's own parameter list does not carry one.
func (c *Catalog) SetNodeSystemIdentifier(nodeID, systemID int64) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, wrapf(ErrUnknownNode, "node %d", nodeID)
	}
	if n.SystemIdentifier != 0 && n.SystemIdentifier != systemID {
		c.bus.append(Event{
			Timestamp:   c.now(),
			FormationID: n.FormationID,
			GroupID:     n.GroupID,
			NodeID:      n.NodeID,
			Reported:    n.ReportedState,
			Goal:        n.GoalState,
			Description: "fencing: system_identifier mismatch",
		})
		return nil, wrapf(ErrSystemIdentifierMismatch, "node %d: had %d, reported %d", nodeID, n.SystemIdentifier, systemID)
	}
	n.SystemIdentifier = systemID
	return n, nil
}

// RemoveNode implements remove_node. If the node is currently the group's
// writable node, removal follows the same failover branch as an unplanned
// primary loss, marking the removed node dropped instead of demote_timeout
// and electing among the remaining peers.
func (c *Catalog) RemoveNode(nodeID int64, force bool) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return false, wrapf(ErrUnknownNode, "node %d", nodeID)
	}

	c.commitGroupLocked(n.FormationID, n.GroupID, false, nodeID)
	delete(c.nodes, nodeID)
	return true, nil
}

// PerformFailover implements perform_failover: it only sets a flag; the
// failover branch is taken on the next group evaluation, whether that's
// the next node_active call for this group or the monitor's periodic
// health sweep.
func (c *Catalog) PerformFailover(formationID string, groupID int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.formations[formationID]; !ok {
		return wrapf(ErrUnknownFormation, "formation %q", formationID)
	}
	c.failoverRequested[groupKey(formationID, groupID)] = true
	failoversTotalMetric.WithLabelValues(formationID, fmt.Sprintf("%d", groupID), "manual").Inc()
	return nil
}

// SetNodeMaintenance implements rule 9's operator command: enable(true)
// flags the node for maintenance, disable(false) clears the flag. Applied
// to the group's current writable node, enable instead triggers a
// controlled failover away from it — maintenance itself only ever runs
// against a standby, so the node only starts down the wait_maintenance
// path once it has finished demoting and come back up as a secondary.
func (c *Catalog) SetNodeMaintenance(nodeID int64, enable bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[nodeID]
	if !ok {
		return wrapf(ErrUnknownNode, "node %d", nodeID)
	}
	n.MaintenanceRequested = enable

	failover := enable && fsm.IsWritable(n.GoalState)
	if failover {
		c.failoverRequested[groupKey(n.FormationID, n.GroupID)] = true
	}
	c.commitGroupLocked(n.FormationID, n.GroupID, failover, 0)
	return nil
}

// GetPrimary implements get_primary: the live node whose goal is in the
// writable lineage, or ErrNoWritableNode.
func (c *Catalog) GetPrimary(formationID string, groupID int) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	nodes := c.nodesInGroupLocked(formationID, groupID)
	if p := currentPrimary(nodes); p != nil {
		return p, nil
	}
	return nil, ErrNoWritableNode
}

// GetOtherNodes implements get_other_nodes: every node in the calling
// node's group other than itself.
func (c *Catalog) GetOtherNodes(nodeID int64) ([]*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[nodeID]
	if !ok {
		return nil, wrapf(ErrUnknownNode, "node %d", nodeID)
	}
	var out []*Node
	for _, other := range c.nodesInGroupLocked(n.FormationID, n.GroupID) {
		if other.NodeID != nodeID {
			out = append(out, other)
		}
	}
	return out, nil
}

// GetEvents implements get_events: the last limit events for a
// formation/group, reverse chronological. formation="" or group<0 removes
// that filter.
func (c *Catalog) GetEvents(formationID string, groupID int, limit int) []Event {
	return c.bus.last(formationID, groupID, limit)
}

// Subscribe mirrors a LISTEN on the "log" channel; the returned cancel func
// must be called when the caller is done reading.
func (c *Catalog) Subscribe(ctx context.Context) (<-chan Event, func()) {
	return c.bus.Subscribe(ctx)
}

// SubscribeNotify mirrors a LISTEN on the "state" channel.
func (c *Catalog) SubscribeNotify(ctx context.Context) (<-chan Notification, func()) {
	return c.bus.SubscribeNotify(ctx)
}

// CheckHealth runs the monitor's independent health probe against every
// live node and then re-evaluates every group, which is what actually
// turns a stale+unreachable primary into a triggered failover — node_active
// alone never performs this I/O-bound step. Call this from a ticker in the
// monitor daemon's main loop.
func (c *Catalog) CheckHealth() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	groups := map[string]struct {
		formationID string
		groupID     int
	}{}
	for _, n := range c.nodes {
		err := error(nil)
		if c.prober != nil {
			err = c.prober.Probe(n.Host, n.Port)
		}
		if err != nil {
			n.Health = HealthBad
		} else {
			// Only a successful probe refreshes last-contact time; a
			// failed one must let isLost's elapsed-time check keep
			// growing across repeated sweeps.
			n.HealthCheckedAt = now
			n.Health = HealthGood
		}
		nodeHealthGauge := 0.0
		if n.Health == HealthGood {
			nodeHealthGauge = 1.0
		}
		nodeHealthMetric.WithLabelValues(n.FormationID, fmt.Sprintf("%d", n.GroupID), fmt.Sprintf("%d", n.NodeID)).Set(nodeHealthGauge)
		groups[groupKey(n.FormationID, n.GroupID)] = struct {
			formationID string
			groupID     int
		}{n.FormationID, n.GroupID}
	}

	for key, g := range groups {
		nodes := c.nodesInGroupLocked(g.formationID, g.groupID)
		primary := currentPrimary(nodes)
		triggered := primary != nil && isLost(primary, now, c.networkPartitionTimeout)
		if triggered {
			failoversTotalMetric.WithLabelValues(g.formationID, fmt.Sprintf("%d", g.groupID), "health").Inc()
		}
		manual := c.failoverRequested[key]
		if manual {
			delete(c.failoverRequested, key)
		}
		c.commitGroupLocked(g.formationID, g.groupID, triggered || manual, 0)
	}
}

// checkInvariants asserts the catalog's "after every transaction"
// invariants over one group's nodes. Used by tests; kept here rather than
// in _test.go so it can assert the same thing catalog.go relies on
// implicitly, namely that evaluateGroup never produces two writable goals
// in one group.
func checkInvariants(nodes []*Node) error {
	writable := 0
	for _, n := range nodes {
		if fsm.IsWritable(n.GoalState) {
			writable++
		}
		if n.ReportedState == fsm.Primary && !fsm.InPrimaryLineage(n.GoalState) {
			return wrapf(ErrInvariantViolation, "node %d reports primary with non-primary goal %q", n.NodeID, n.GoalState)
		}
	}
	if writable > 1 {
		return wrapf(ErrInvariantViolation, "group has %d writable nodes", writable)
	}
	return nil
}
