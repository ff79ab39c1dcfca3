// Copyright (c) 2018, Postgres Professional

// Package cmd is the keeper agent's command tree (§6's "Keeper CLI"):
// create postgres, run, show {state|events|uri|files}, enable/disable
// {maintenance|secondary}. The CLI surface itself is explicitly out of
// scope per §1 ("option parsing, help text"); this tree exists only to
// wire the core loop (internal/keeper) up to a runnable binary, in the
// same cobra-tree-plus-AddCommonFlags shape the teacher uses for its own
// daemons.
package cmd

import (
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/jackc/pgx"
	"github.com/spf13/cobra"

	"postgrespro.ru/pgautofailover/internal/connstr"
	"postgrespro.ru/pgautofailover/internal/fsm"
	"postgrespro.ru/pgautofailover/internal/keeper"
	"postgrespro.ru/pgautofailover/internal/monitorrpc"
	"postgrespro.ru/pgautofailover/internal/shmnlog"
	"postgrespro.ru/pgautofailover/internal/utils"
)

var (
	monitorURL  string
	formationID string
	pgdata      string
	pghost      string
	pgport      int
	dbname      string
	priority    int
	quorum      bool
	logLevel    string
	debugDump   bool

	hl *shmnlog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pgautofailover-keeper",
	Short: "Keeper agent: probes the local instance and drives it through the failover state machine.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&monitorURL, "monitor", "http://127.0.0.1:9000", "base URL of the monitor RPC server")
	rootCmd.PersistentFlags().StringVar(&formationID, "formation", "default", "formation this node belongs to")
	rootCmd.PersistentFlags().StringVar(&pgdata, "pgdata", os.Getenv("PGDATA"), "local data directory; also where the state and PID files live")
	rootCmd.PersistentFlags().StringVar(&pghost, "pghost", "127.0.0.1", "local instance host")
	rootCmd.PersistentFlags().IntVar(&pgport, "pgport", 5432, "local instance port")
	rootCmd.PersistentFlags().StringVar(&dbname, "dbname", "postgres", "local instance database name")
	rootCmd.PersistentFlags().IntVar(&priority, "candidate-priority", 100, "0-100; 0 disqualifies this node from promotion")
	rootCmd.PersistentFlags().BoolVar(&quorum, "replication-quorum", true, "participate in the synchronous standby quorum")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "error|warn|info|debug")
	rootCmd.PersistentFlags().BoolVar(&debugDump, "debug", false, "spew.Sdump the live node struct in show state")

	createCmd := &cobra.Command{Use: "create", Short: "Create monitor or postgres node registrations."}
	createCmd.AddCommand(createPostgresCmd, createMonitorCmd)

	showCmd := &cobra.Command{Use: "show", Short: "Inspect keeper state."}
	showCmd.AddCommand(showStateCmd, showEventsCmd, showURICmd, showFilesCmd)

	enableCmd := &cobra.Command{Use: "enable", Short: "Enable maintenance or secondary mode."}
	enableCmd.AddCommand(enableMaintenanceCmd, enableSecondaryCmd)

	disableCmd := &cobra.Command{Use: "disable", Short: "Disable maintenance or secondary mode."}
	disableCmd.AddCommand(disableMaintenanceCmd, disableSecondaryCmd)

	rootCmd.AddCommand(createCmd, runCmd, showCmd, enableCmd, disableCmd)
}

// Execute is the keeper binary's single entry point.
func Execute() {
	if err := utils.SetFlagsFromEnv(rootCmd.PersistentFlags(), "PGAUTOFAILOVER_KEEPER"); err != nil {
		shmnlog.GetLogger().Fatalf("%v", err)
	}
	hl = shmnlog.GetLoggerWithLevel(logLevel)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func statePath() string { return keeper.DefaultStateFilePath(pgdata) }
func pidPath() string   { return keeper.DefaultPIDFilePath(pgdata) }

func loadStateOrExit() *keeper.State {
	st, err := keeper.LoadState(statePath())
	if err != nil {
		hl.Fatalf("load state file: %v", err)
	}
	if st == nil {
		hl.Fatalf("no state file at %s; run `create postgres` first", statePath())
	}
	return st
}

var createPostgresCmd = &cobra.Command{
	Use:   "postgres",
	Short: "Register this node with the monitor and write its initial state file.",
	Run: func(c *cobra.Command, args []string) {
		client := monitorrpc.NewClient(monitorURL)
		n, err := client.RegisterNode(formationID, pghost, pgport, dbname, 0, priority, quorum)
		if err != nil {
			hl.Fatalf("register_node: %v", err)
		}
		st := keeper.State{
			FormationID:  formationID,
			NodeID:       n.NodeID,
			GroupID:      n.GroupID,
			CurrentState: fsm.Init,
			PgDataDir:    pgdata,
		}
		if err := keeper.SaveState(statePath(), st); err != nil {
			hl.Fatalf("save state file: %v", err)
		}
		hl.Infof("registered as %s (node_id=%d, group_id=%d, goal=%s)", n.NodeName, n.NodeID, n.GroupID, n.GoalState)
	},
}

var createMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Print the connection info this keeper will use to reach the monitor.",
	Run: func(c *cobra.Command, args []string) {
		fmt.Println(monitorURL)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the keeper loop until SIGINT/SIGTERM.",
	Run: func(c *cobra.Command, args []string) {
		st := loadStateOrExit()
		client := monitorrpc.NewClient(monitorURL)

		probe := keeper.LocalProbe{Host: pghost, Port: pgport, Dbname: dbname}

		conn, err := pgx.Connect(pgx.ConnConfig{Host: pghost, Port: uint16(pgport), Database: dbname})
		var actions keeper.Runner
		if err != nil {
			hl.Warnf("could not open a local connection yet, transitions will be skipped until it's reachable: %v", err)
		} else {
			defer conn.Close()
			actions = keeper.NewActions(conn)
		}

		loop := keeper.NewLoop(st.FormationID, st.NodeID, st.GroupID, 0, client, probe, actions)
		loop.StatePath = statePath()
		loop.Logger = hl

		if err := keeper.WritePIDFile(pidPath()); err != nil {
			hl.Warnf("write pid file: %v", err)
		}
		defer keeper.RemovePIDFile(pidPath())

		ctx := utils.SignalContext()
		if err := loop.Run(ctx); err != nil {
			hl.Fatalf("keeper loop halted: %v", err)
		}
		hl.Infof("keeper stopped")
	},
}

var showStateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print this node's current FSM state.",
	Run: func(c *cobra.Command, args []string) {
		st := loadStateOrExit()
		if debugDump {
			fmt.Println(spew.Sdump(st))
			return
		}
		fmt.Printf("formation=%s node_id=%d group_id=%d state=%s\n", st.FormationID, st.NodeID, st.GroupID, st.CurrentState)
	},
}

var showEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the most recent events for this node's formation.",
	Run: func(c *cobra.Command, args []string) {
		st := loadStateOrExit()
		client := monitorrpc.NewClient(monitorURL)
		events, err := client.GetEvents(st.FormationID, st.GroupID, 20)
		if err != nil {
			hl.Fatalf("get_events: %v", err)
		}
		for _, e := range events {
			fmt.Printf("%d %s node=%d %s -> %s: %s\n", e.EventID, e.Timestamp.Format("2006-01-02T15:04:05"), e.NodeID, e.Reported, e.Goal, e.Description)
		}
	},
}

var showURICmd = &cobra.Command{
	Use:   "uri",
	Short: "Print the connection URI of the local Postgres instance.",
	Run: func(c *cobra.Command, args []string) {
		fmt.Println(connstr.BuildURI(connstr.Params{"host": pghost, "port": fmt.Sprint(pgport), "dbname": dbname}))
	},
}

var showFilesCmd = &cobra.Command{
	Use:   "files",
	Short: "Print the paths of the state and PID files.",
	Run: func(c *cobra.Command, args []string) {
		fmt.Printf("state: %s\npid: %s\n", statePath(), pidPath())
	},
}

var enableMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Move this node into maintenance (a controlled failover first, if it is currently primary).",
	Run: func(c *cobra.Command, args []string) {
		st := loadStateOrExit()
		client := monitorrpc.NewClient(monitorURL)
		if err := client.SetNodeMaintenance(st.NodeID, true); err != nil {
			hl.Fatalf("set_node_maintenance: %v", err)
		}
		hl.Infof("maintenance requested; the keeper loop will walk through wait_maintenance -> maintenance on its next ticks")
	},
}

var enableSecondaryCmd = &cobra.Command{
	Use:   "secondary",
	Short: "Log a note about secondary mode; changes nothing on the monitor or locally.",
	Run: func(c *cobra.Command, args []string) {
		hl.Infof("secondary mode will resume once the keeper loop's next tick reports catchingup")
	},
}

var disableMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Leave maintenance mode.",
	Run: func(c *cobra.Command, args []string) {
		st := loadStateOrExit()
		client := monitorrpc.NewClient(monitorURL)
		if err := client.SetNodeMaintenance(st.NodeID, false); err != nil {
			hl.Fatalf("set_node_maintenance: %v", err)
		}
		hl.Infof("maintenance cleared; the keeper loop will walk through catchingup -> secondary on its next ticks")
	},
}

var disableSecondaryCmd = &cobra.Command{
	Use:   "secondary",
	Short: "Log a note about leaving secondary mode; changes nothing on the monitor or locally.",
	Run: func(c *cobra.Command, args []string) {
		hl.Infof("secondary disable has no effect; nothing was changed")
	},
}
