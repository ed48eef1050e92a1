package main

import "github.com/ignite-health/funnel/cmd/server/cmd"

func main() {
	cmd.Execute()
}
