// Package monitorrpc carries the keeper<->monitor RPC contract (§4.3,
// §6's register_node / node_active / set_node_system_identifier /
// remove_node / perform_failover / get_primary / get_other_nodes) over a
// plain JSON-over-HTTP transport, grounded on the torua example's
// internal/cluster.PostJSON helper and internal/coordinator's net/http
// ServeMux handlers — the closest analog in the retrieval pack to this
// system's coordinator/node split (§1 places the real "standard database
// protocol" wire format out of scope, so this package is this rewrite's
// stand-in network boundary between the two processes).
package monitorrpc

import (
	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

// nodeWire is the JSON shape a *catalog.Node is flattened to on the wire;
// kept distinct from catalog.Node so the wire format doesn't silently
// change shape whenever an unrelated internal field is added to Node.
type nodeWire struct {
	NodeID            int64                    `json:"node_id"`
	NodeName          string                   `json:"node_name"`
	FormationID       string                   `json:"formation_id"`
	GroupID           int                      `json:"group_id"`
	Host              string                   `json:"host"`
	Port              int                      `json:"port"`
	SystemIdentifier  int64                    `json:"system_identifier"`
	CandidatePriority int                      `json:"candidate_priority"`
	ReplicationQuorum bool                     `json:"replication_quorum"`
	ReportedState     fsm.State                `json:"reported_state"`
	GoalState         fsm.State                `json:"goal_state"`
	ReportedLSN       uint64                   `json:"reported_lsn"`
	Health            catalog.Health           `json:"health"`
}

func toWire(n *catalog.Node) nodeWire {
	return nodeWire{
		NodeID:            n.NodeID,
		NodeName:          n.NodeName,
		FormationID:       n.FormationID,
		GroupID:           n.GroupID,
		Host:              n.Host,
		Port:              n.Port,
		SystemIdentifier:  n.SystemIdentifier,
		CandidatePriority: n.CandidatePriority,
		ReplicationQuorum: n.ReplicationQuorum,
		ReportedState:     n.ReportedState,
		GoalState:         n.GoalState,
		ReportedLSN:       n.ReportedLSN,
		Health:            n.Health,
	}
}

func (w nodeWire) toNode() *catalog.Node {
	return &catalog.Node{
		NodeID:            w.NodeID,
		NodeName:          w.NodeName,
		FormationID:       w.FormationID,
		GroupID:           w.GroupID,
		Host:              w.Host,
		Port:              w.Port,
		SystemIdentifier:  w.SystemIdentifier,
		CandidatePriority: w.CandidatePriority,
		ReplicationQuorum: w.ReplicationQuorum,
		ReportedState:     w.ReportedState,
		GoalState:         w.GoalState,
		ReportedLSN:       w.ReportedLSN,
		Health:            w.Health,
	}
}

type errorWire struct {
	Error string `json:"error"`
}

type registerNodeRequest struct {
	FormationID string `json:"formation_id"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	DBName      string `json:"dbname"`
	SystemID    int64  `json:"system_identifier"`
	Priority    int    `json:"candidate_priority"`
	Quorum      bool   `json:"replication_quorum"`
}

type nodeActiveRequest struct {
	FormationID string                   `json:"formation_id"`
	NodeID      int64                    `json:"node_id"`
	GroupID     int                      `json:"group_id"`
	Reported    fsm.State                `json:"reported_state"`
	LSN         uint64                   `json:"reported_lsn"`
	PgIsRunning bool                     `json:"pg_is_running"`
	ReplState   catalog.ReplicationState `json:"replication_state"`
}

type setSystemIdentifierRequest struct {
	NodeID   int64 `json:"node_id"`
	SystemID int64 `json:"system_identifier"`
}

type removeNodeRequest struct {
	NodeID int64 `json:"node_id"`
	Force  bool  `json:"force"`
}

type removeNodeResponse struct {
	OK bool `json:"ok"`
}

type performFailoverRequest struct {
	FormationID string `json:"formation_id"`
	GroupID     int    `json:"group_id"`
}

type getOtherNodesResponse struct {
	Nodes []nodeWire `json:"nodes"`
}

type setMaintenanceRequest struct {
	NodeID int64 `json:"node_id"`
	Enable bool  `json:"enable"`
}
