package keeper

import (
	"github.com/pkg/errors"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

// MonitorClient is everything a keeper loop needs from the monitor. It is
// the transport boundary: LocalClient below satisfies it by calling
// straight into an in-process catalog.Catalog (used by tests and by a
// monitor and keeper sharing one process); a networked implementation
// would satisfy the same interface over the wire without the loop caring.
type MonitorClient interface {
	RegisterNode(formationID, host string, port int, dbname string, systemID int64, priority int, quorum bool) (*catalog.Node, error)
	NodeActive(formationID string, nodeID int64, groupID int, reported fsm.State, lsn uint64, pgIsRunning bool, replState catalog.ReplicationState) (*catalog.Node, error)
	SetNodeSystemIdentifier(nodeID, systemID int64) (*catalog.Node, error)
	GetOtherNodes(nodeID int64) ([]*catalog.Node, error)
}

// LocalClient adapts an in-process *catalog.Catalog to MonitorClient,
// translating catalog's sentinel errors into keeper.Error so the main loop
// can classify them without importing the catalog package's error types
// directly.
type LocalClient struct {
	Catalog *catalog.Catalog
}

func (l LocalClient) RegisterNode(formationID, host string, port int, dbname string, systemID int64, priority int, quorum bool) (*catalog.Node, error) {
	n, err := l.Catalog.RegisterNode(formationID, host, port, dbname, systemID, priority, quorum)
	return n, classifyMonitorErr(err)
}

func (l LocalClient) NodeActive(formationID string, nodeID int64, groupID int, reported fsm.State, lsn uint64, pgIsRunning bool, replState catalog.ReplicationState) (*catalog.Node, error) {
	n, err := l.Catalog.NodeActive(formationID, nodeID, groupID, reported, lsn, pgIsRunning, replState)
	return n, classifyMonitorErr(err)
}

func (l LocalClient) SetNodeSystemIdentifier(nodeID, systemID int64) (*catalog.Node, error) {
	n, err := l.Catalog.SetNodeSystemIdentifier(nodeID, systemID)
	return n, classifyMonitorErr(err)
}

func (l LocalClient) GetOtherNodes(nodeID int64) ([]*catalog.Node, error) {
	n, err := l.Catalog.GetOtherNodes(nodeID)
	return n, classifyMonitorErr(err)
}

func classifyMonitorErr(err error) error {
	if err == nil {
		return nil
	}
	switch errors.Cause(err) {
	case catalog.ErrSystemIdentifierMismatch, catalog.ErrInvariantViolation:
		return wrapErr(KindInvariantViolation, err)
	default:
		return wrapErr(KindMonitorLogical, err)
	}
}
