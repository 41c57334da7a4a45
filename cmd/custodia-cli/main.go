package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		return 1
	}
	switch args[0] {
	case "settlement":
		return runSettlementCommand(args[1:], os.Stdout, os.Stderr)
	case "timelock":
		return runTimelockCommand(args[1:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stdout, usage())
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, usage())
		return 1
	}
}

func usage() string {
	return `Usage: custodia-cli <command> [subcommand] [flags]

Commands:
  settlement  manage settlement records (create, fund, deliver, ...)
  timelock    manage timelock deposits (deposit, withdraw, clawback, get)

Environment:
  CUSTODIA_RPC_URL    JSON-RPC endpoint (default http://127.0.0.1:8645)
  CUSTODIA_RPC_TOKEN  bearer token for mutating calls`
}
