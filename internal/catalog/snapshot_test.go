package catalog

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	now := time.Now()
	c, _ := newTestCatalog(&now)
	require.NoError(t, c.AddFormation(Formation{FormationID: "default", Kind: FormationPlain, NumberSyncStandbys: 1}))
	n1, err := c.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	_, err = c.RegisterNode("default", "node2", 5432, "postgres", 0, 50, true)
	require.NoError(t, err)

	snap := c.Snapshot()

	c2, _ := newTestCatalog(&now)
	c2.Restore(snap)

	p, err := c2.GetPrimary("default", 0)
	require.NoError(t, err)
	assert.Equal(t, n1.NodeID, p.NodeID)

	others, err := c2.GetOtherNodes(n1.NodeID)
	require.NoError(t, err)
	assert.Len(t, others, 1)
}
