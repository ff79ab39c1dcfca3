package monitorrpc

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

func newTestServer(t *testing.T) (*Client, *catalog.Catalog) {
	cat := catalog.NewCatalog()
	require.NoError(t, cat.AddFormation(catalog.Formation{FormationID: "default", Kind: catalog.FormationPlain}))
	srv := &Server{Catalog: cat}
	ts := httptest.NewServer(srv.Mux())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), cat
}

func TestClientServer_RegisterAndNodeActiveRoundTrip(t *testing.T) {
	client, _ := newTestServer(t)

	n, err := client.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	assert.Equal(t, fsm.Single, n.GoalState)

	n2, err := client.NodeActive("default", n.NodeID, n.GroupID, fsm.Single, 100, true, catalog.ReplicationAsync)
	require.NoError(t, err)
	assert.Equal(t, fsm.Single, n2.GoalState)
}

func TestClientServer_UnknownFormationErrors(t *testing.T) {
	client, _ := newTestServer(t)

	_, err := client.RegisterNode("ghost", "h", 1, "d", 0, 1, true)
	assert.Error(t, err)
}

func TestClientServer_GetPrimaryErrorsWithNoWritableNode(t *testing.T) {
	client, cat := newTestServer(t)

	n, err := client.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	_, err = cat.RemoveNode(n.NodeID, false)
	require.NoError(t, err)

	_, err = client.GetPrimary("default", 0)
	assert.Error(t, err)
}

func TestClientServer_SetNodeMaintenanceRoundTrip(t *testing.T) {
	client, cat := newTestServer(t)

	n, err := client.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)

	require.NoError(t, client.SetNodeMaintenance(n.NodeID, true))

	got, err := cat.NodeActive("default", n.NodeID, n.GroupID, fsm.Single, 0, true, catalog.ReplicationAsync)
	require.NoError(t, err)
	assert.True(t, got.MaintenanceRequested)
}

func TestClientServer_GetOtherNodes(t *testing.T) {
	client, _ := newTestServer(t)

	n1, err := client.RegisterNode("default", "node1", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)
	n2, err := client.RegisterNode("default", "node2", 5432, "postgres", 0, 100, true)
	require.NoError(t, err)

	others, err := client.GetOtherNodes(n1.NodeID)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, n2.NodeID, others[0].NodeID)
}
