package keeper

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"postgrespro.ru/pgautofailover/internal/fsm"
)

// stateFileVersion guards against a keeper built from a different revision
// reading a state file whose layout it no longer understands. Bump this
// whenever State's fields change shape.
const stateFileVersion = 1

// State is everything a keeper needs to remember across a restart: which
// node it is, and what it last believed its own FSM state to be. Losing
// this file is recoverable (the keeper falls back to whatever Postgres
// itself reports plus a fresh registration) but forces it through the
// full catch-up path again.
type State struct {
	Version       int       `json:"version"`
	FormationID   string    `json:"formation_id"`
	NodeID        int64     `json:"node_id"`
	GroupID       int       `json:"group_id"`
	CurrentState  fsm.State `json:"current_state"`
	PgDataDir     string    `json:"pgdata"`
}

// LoadState reads and validates the state file at path. A missing file is
// not an error: it means this keeper has never registered with a monitor
// yet, and the caller should start from RegisterNode.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(KindAuthConfig, errors.Wrap(err, "read state file"))
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, wrapErr(KindAuthConfig, errors.Wrap(err, "parse state file"))
	}
	if s.Version != stateFileVersion {
		return nil, wrapErr(KindAuthConfig, errors.Errorf("state file %s has version %d, expected %d", path, s.Version, stateFileVersion))
	}
	return &s, nil
}

// SaveState writes s to path, replacing any previous contents. Written
// through a temp file and renamed into place so a crash mid-write never
// leaves a half-written, unparseable state file behind.
func SaveState(path string, s State) error {
	s.Version = stateFileVersion
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return wrapErr(KindUnknown, errors.Wrap(err, "marshal state file"))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return wrapErr(KindAuthConfig, errors.Wrap(err, "write state file"))
	}
	if err := os.Rename(tmp, path); err != nil {
		return wrapErr(KindAuthConfig, errors.Wrap(err, "rename state file into place"))
	}
	return nil
}

// WritePIDFile records the running keeper's PID at path, the same
// plain-text single-line convention pg_autoctl itself uses so an operator
// (or an init script) can find and signal the right process.
func WritePIDFile(path string) error {
	return os.WriteFile(path, []byte(pidText()), 0o644)
}

func pidText() string {
	return strconv.Itoa(os.Getpid()) + "\n"
}

// ReadPIDFile returns the PID recorded by a previous WritePIDFile call, or
// 0 if the file doesn't exist.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "read pid file")
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// RemovePIDFile deletes the PID file on clean shutdown; a missing file is
// not an error.
func RemovePIDFile(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove pid file")
	}
	return nil
}

// DefaultStateFilePath returns the conventional state file location
// beneath a keeper's pgdata directory, mirroring pg_autoctl's own
// pg_autoctl.state placement alongside the data directory it manages.
func DefaultStateFilePath(pgdata string) string {
	return filepath.Join(pgdata, "pg_autoctl.state")
}

// DefaultPIDFilePath mirrors pg_autoctl.pid alongside the state file.
func DefaultPIDFilePath(pgdata string) string {
	return filepath.Join(pgdata, "pg_autoctl.pid")
}
