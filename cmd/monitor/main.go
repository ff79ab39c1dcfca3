// Copyright (c) 2018, Postgres Professional

package main

import "postgrespro.ru/pgautofailover/cmd/monitor/cmd"

func main() {
	cmd.Execute()
}
