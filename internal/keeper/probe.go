package keeper

import (
	"github.com/jackc/pgx"

	"postgrespro.ru/pgautofailover/internal/catalog"
)

// LocalProbe reads the state of the Postgres instance the keeper manages,
// the same connect-and-query idiom as internal/pg/pg.go's broadcastConnMain
// in the teacher, just pointed at a handful of status queries instead of a
// transaction broadcast.
type LocalProbe struct {
	Host     string
	Port     int
	User     string
	Password string
	Dbname   string
}

// Report is everything the keeper needs to know about the local instance
// before deciding which transition action to run and what to tell the
// monitor.
type Report struct {
	PgIsRunning      bool
	InRecovery       bool
	LSN              uint64
	ReplicationState catalog.ReplicationState
	SystemIdentifier int64
}

func (p LocalProbe) connConfig() pgx.ConnConfig {
	return pgx.ConnConfig{
		Host:     p.Host,
		Port:     uint16(p.Port),
		User:     p.User,
		Password: p.Password,
		Database: p.Dbname,
	}
}

// Probe connects to the local instance and gathers a Report. A connection
// failure is reported as PgIsRunning=false rather than an error: Postgres
// being down is an expected, frequent state the keeper must transition
// through, not a keeper-loop failure.
func (p LocalProbe) Probe() (Report, error) {
	conn, err := pgx.Connect(p.connConfig())
	if err != nil {
		return Report{PgIsRunning: false}, nil
	}
	defer conn.Close()

	var r Report
	r.PgIsRunning = true

	if err := conn.QueryRow("select pg_is_in_recovery()").Scan(&r.InRecovery); err != nil {
		return r, wrapErr(KindDatabaseOperational, err)
	}

	if r.InRecovery {
		if err := conn.QueryRow("select coalesce(pg_last_wal_replay_lsn() - '0/0'::pg_lsn, 0)").Scan(&r.LSN); err != nil {
			return r, wrapErr(KindDatabaseOperational, err)
		}
		r.ReplicationState = walReceiverSyncState(conn)
	} else {
		if err := conn.QueryRow("select coalesce(pg_current_wal_lsn() - '0/0'::pg_lsn, 0)").Scan(&r.LSN); err != nil {
			return r, wrapErr(KindDatabaseOperational, err)
		}
		r.ReplicationState = primarySyncState(conn)
	}

	if err := conn.QueryRow("select system_identifier from pg_control_system()").Scan(&r.SystemIdentifier); err != nil {
		return r, wrapErr(KindDatabaseOperational, err)
	}

	return r, nil
}

// primarySyncState looks at this node's own walsender entries toward its
// monitor-assigned synchronous standby, if any. A primary with no
// connected standby at all reports async: it has nothing to be sync with.
func primarySyncState(conn *pgx.Conn) catalog.ReplicationState {
	var syncState string
	err := conn.QueryRow("select sync_state from pg_stat_replication order by sync_state = 'sync' desc, sync_state = 'quorum' desc limit 1").Scan(&syncState)
	if err == pgx.ErrNoRows {
		return catalog.ReplicationAsync
	}
	if err != nil {
		return catalog.ReplicationUnknown
	}
	switch syncState {
	case "sync":
		return catalog.ReplicationSync
	case "quorum":
		return catalog.ReplicationQuorum
	case "async", "potential":
		return catalog.ReplicationAsync
	default:
		return catalog.ReplicationUnknown
	}
}

// walReceiverSyncState reports async when the standby's own walreceiver is
// streaming and unknown otherwise. It never reports sync or quorum.
func walReceiverSyncState(conn *pgx.Conn) catalog.ReplicationState {
	var status string
	err := conn.QueryRow("select status from pg_stat_wal_receiver").Scan(&status)
	if err != nil || status != "streaming" {
		return catalog.ReplicationUnknown
	}
	return catalog.ReplicationAsync
}
