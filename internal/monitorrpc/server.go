package monitorrpc

import (
	"encoding/json"
	"net/http"
	"strconv"

	"postgrespro.ru/pgautofailover/internal/catalog"
)

// Server exposes a *catalog.Catalog over HTTP, one handler per RPC named in
// §6, the same http.NewServeMux per-path-per-handler wiring as torua's
// cmd/coordinator/main.go.
type Server struct {
	Catalog *catalog.Catalog
}

// Mux builds the *http.ServeMux a monitor daemon's cmd/monitor main loop
// hands to http.Server.Handler.
func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/register_node", s.handleRegisterNode)
	mux.HandleFunc("/node_active", s.handleNodeActive)
	mux.HandleFunc("/set_node_system_identifier", s.handleSetNodeSystemIdentifier)
	mux.HandleFunc("/remove_node", s.handleRemoveNode)
	mux.HandleFunc("/perform_failover", s.handlePerformFailover)
	mux.HandleFunc("/set_node_maintenance", s.handleSetNodeMaintenance)
	mux.HandleFunc("/get_primary", s.handleGetPrimary)
	mux.HandleFunc("/get_other_nodes", s.handleGetOtherNodes)
	mux.HandleFunc("/get_events", s.handleGetEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorWire{Error: err.Error()})
}

func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Catalog.RegisterNode(req.FormationID, req.Host, req.Port, req.DBName, req.SystemID, req.Priority, req.Quorum)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(n))
}

func (s *Server) handleNodeActive(w http.ResponseWriter, r *http.Request) {
	var req nodeActiveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Catalog.NodeActive(req.FormationID, req.NodeID, req.GroupID, req.Reported, req.LSN, req.PgIsRunning, req.ReplState)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(n))
}

func (s *Server) handleSetNodeSystemIdentifier(w http.ResponseWriter, r *http.Request) {
	var req setSystemIdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	n, err := s.Catalog.SetNodeSystemIdentifier(req.NodeID, req.SystemID)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(n))
}

func (s *Server) handleRemoveNode(w http.ResponseWriter, r *http.Request) {
	var req removeNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ok, err := s.Catalog.RemoveNode(req.NodeID, req.Force)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, removeNodeResponse{OK: ok})
}

func (s *Server) handlePerformFailover(w http.ResponseWriter, r *http.Request) {
	var req performFailoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Catalog.PerformFailover(req.FormationID, req.GroupID); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetNodeMaintenance(w http.ResponseWriter, r *http.Request) {
	var req setMaintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.Catalog.SetNodeMaintenance(req.NodeID, req.Enable); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetPrimary(w http.ResponseWriter, r *http.Request) {
	formationID := r.URL.Query().Get("formation_id")
	groupID, _ := strconv.Atoi(r.URL.Query().Get("group_id"))
	n, err := s.Catalog.GetPrimary(formationID, groupID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, toWire(n))
}

func (s *Server) handleGetOtherNodes(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.ParseInt(r.URL.Query().Get("node_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	nodes, err := s.Catalog.GetOtherNodes(nodeID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	resp := getOtherNodesResponse{}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, toWire(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	formationID := r.URL.Query().Get("formation_id")
	groupID, err := strconv.Atoi(r.URL.Query().Get("group_id"))
	if err != nil {
		groupID = -1
	}
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}
	writeJSON(w, http.StatusOK, s.Catalog.GetEvents(formationID, groupID, limit))
}
