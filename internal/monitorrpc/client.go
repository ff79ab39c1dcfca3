package monitorrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"postgrespro.ru/pgautofailover/internal/catalog"
	"postgrespro.ru/pgautofailover/internal/fsm"
)

// defaultDialTimeout is §5's "every keeper<->monitor call has a connection
// timeout (default 10s)".
const defaultDialTimeout = 10 * time.Second

// Client is a keeper.MonitorClient implementation that talks to a Server
// over HTTP+JSON, grounded on torua's internal/cluster.PostJSON helper.
type Client struct {
	BaseURL string
	HTTP    *http.Client
}

// NewClient builds a Client against baseURL (e.g. "http://monitor:9000")
// with the default connection timeout.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: defaultDialTimeout},
	}
}

func (c *Client) postJSON(path string, body, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	reqBody, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ew errorWire
		if err := json.NewDecoder(resp.Body).Decode(&ew); err == nil && ew.Error != "" {
			return errors.New(ew.Error)
		}
		return errors.Errorf("%s: monitor returned status %d", path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *Client) getJSON(path string, query url.Values, out interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), defaultDialTimeout)
	defer cancel()

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return errors.Wrapf(err, "calling %s", path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var ew errorWire
		if err := json.NewDecoder(resp.Body).Decode(&ew); err == nil && ew.Error != "" {
			return errors.New(ew.Error)
		}
		return errors.Errorf("%s: monitor returned status %d", path, resp.StatusCode)
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decode response")
}

func (c *Client) RegisterNode(formationID, host string, port int, dbname string, systemID int64, priority int, quorum bool) (*catalog.Node, error) {
	var w nodeWire
	err := c.postJSON("/register_node", registerNodeRequest{
		FormationID: formationID, Host: host, Port: port, DBName: dbname,
		SystemID: systemID, Priority: priority, Quorum: quorum,
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toNode(), nil
}

func (c *Client) NodeActive(formationID string, nodeID int64, groupID int, reported fsm.State, lsn uint64, pgIsRunning bool, replState catalog.ReplicationState) (*catalog.Node, error) {
	var w nodeWire
	err := c.postJSON("/node_active", nodeActiveRequest{
		FormationID: formationID, NodeID: nodeID, GroupID: groupID,
		Reported: reported, LSN: lsn, PgIsRunning: pgIsRunning, ReplState: replState,
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toNode(), nil
}

func (c *Client) SetNodeSystemIdentifier(nodeID, systemID int64) (*catalog.Node, error) {
	var w nodeWire
	err := c.postJSON("/set_node_system_identifier", setSystemIdentifierRequest{NodeID: nodeID, SystemID: systemID}, &w)
	if err != nil {
		return nil, err
	}
	return w.toNode(), nil
}

func (c *Client) RemoveNode(nodeID int64, force bool) (bool, error) {
	var resp removeNodeResponse
	err := c.postJSON("/remove_node", removeNodeRequest{NodeID: nodeID, Force: force}, &resp)
	if err != nil {
		return false, err
	}
	return resp.OK, nil
}

func (c *Client) PerformFailover(formationID string, groupID int) error {
	return c.postJSON("/perform_failover", performFailoverRequest{FormationID: formationID, GroupID: groupID}, nil)
}

func (c *Client) SetNodeMaintenance(nodeID int64, enable bool) error {
	return c.postJSON("/set_node_maintenance", setMaintenanceRequest{NodeID: nodeID, Enable: enable}, nil)
}

func (c *Client) GetPrimary(formationID string, groupID int) (*catalog.Node, error) {
	var w nodeWire
	err := c.getJSON("/get_primary", url.Values{
		"formation_id": {formationID},
		"group_id":     {strconv.Itoa(groupID)},
	}, &w)
	if err != nil {
		return nil, err
	}
	return w.toNode(), nil
}

func (c *Client) GetOtherNodes(nodeID int64) ([]*catalog.Node, error) {
	var resp getOtherNodesResponse
	err := c.getJSON("/get_other_nodes", url.Values{"node_id": {strconv.FormatInt(nodeID, 10)}}, &resp)
	if err != nil {
		return nil, err
	}
	nodes := make([]*catalog.Node, 0, len(resp.Nodes))
	for _, w := range resp.Nodes {
		nodes = append(nodes, w.toNode())
	}
	return nodes, nil
}

func (c *Client) GetEvents(formationID string, groupID, limit int) ([]catalog.Event, error) {
	var events []catalog.Event
	err := c.getJSON("/get_events", url.Values{
		"formation_id": {formationID},
		"group_id":     {strconv.Itoa(groupID)},
		"limit":        {strconv.Itoa(limit)},
	}, &events)
	if err != nil {
		return nil, err
	}
	return events, nil
}
