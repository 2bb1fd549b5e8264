/*
main.go - wmsctl, the operator CLI

PURPOSE:
  Offline companion to the server. Runs demo scenarios on an in-memory
  engine with a manual clock, prints status graphs and KPI snapshots, and
  checks config and policy files before they are deployed.

COMMANDS:
  wmsctl scenario list
  wmsctl scenario run <id>...         run scenarios, print the requests
  wmsctl graph list
  wmsctl graph show <kind>            edges of a status graph
  wmsctl kpi <kind> [--period P]      KPI snapshot over scenario data
  wmsctl config show [--config f]     effective server configuration
  wmsctl policy check <file>          validate a policy document

GLOBAL FLAGS:
  --json   output JSON instead of tables
  --at     clock start for scenario runs (RFC3339)

  Flags can be set from WMSCTL_* environment variables, e.g. WMSCTL_JSON=true.

SEE ALSO:
  - api/scenarios.go: scenario catalog
  - cmd/server: the HTTP server
*/
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
