package catalog

import (
	"fmt"

	"github.com/jackc/pgx"
)

// PgxProber is the production Prober: it dials the node directly with pgx
// and runs SELECT 1, the same connect-and-query idiom as
// internal/pg/pg.go's broadcastConnMain in the teacher, just for a single
// liveness query instead of a transaction broadcast.
type PgxProber struct {
	User     string
	Password string
	Dbname   string
}

func (p PgxProber) Probe(host string, port int) error {
	connConfig := pgx.ConnConfig{
		Host:     host,
		Port:     uint16(port),
		User:     p.User,
		Password: p.Password,
		Database: p.Dbname,
	}
	conn, err := pgx.Connect(connConfig)
	if err != nil {
		return fmt.Errorf("connecting to %s:%d: %w", host, port, err)
	}
	defer conn.Close()

	var one int
	if err := conn.QueryRow("select 1").Scan(&one); err != nil {
		return fmt.Errorf("probing %s:%d: %w", host, port, err)
	}
	return nil
}
