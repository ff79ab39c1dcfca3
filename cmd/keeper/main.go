// Copyright (c) 2018, Postgres Professional

package main

import "postgrespro.ru/pgautofailover/cmd/keeper/cmd"

func main() {
	cmd.Execute()
}
