package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
)

func runTimelockCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, timelockUsage())
		return 1
	}
	switch args[0] {
	case "deposit":
		return runTimelockDeposit(args[1:], stdout, stderr)
	case "withdraw":
		return runTimelockAction("timelock_withdraw", args[1:], stdout, stderr)
	case "clawback":
		return runTimelockAction("timelock_clawback", args[1:], stdout, stderr)
	case "get":
		return runTimelockGet(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown timelock subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, timelockUsage())
		return 1
	}
}

func timelockUsage() string {
	return `Usage: custodia-cli timelock <subcommand> [flags]

Subcommands:
  deposit   lock funds for a withdrawer
  withdraw  withdraw after the unlock time (withdrawer)
  clawback  reclaim after the clawback delay (depositor)
  get       fetch a deposit`
}

func timelockKeyFlags(fs *flag.FlagSet) (depositor, withdrawer, asset *string) {
	depositor = fs.String("depositor", "", "depositor bech32 address")
	withdrawer = fs.String("withdrawer", "", "withdrawer bech32 address")
	asset = fs.String("asset", "", "asset symbol")
	return depositor, withdrawer, asset
}

func validateTimelockKey(stderr io.Writer, depositor, withdrawer, asset string) int {
	if depositor == "" || withdrawer == "" {
		return printFlagError(stderr, "--depositor and --withdrawer are required")
	}
	if asset == "" {
		return printFlagError(stderr, "--asset is required")
	}
	return 0
}

func runTimelockDeposit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("timelock deposit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	depositor, withdrawer, asset := timelockKeyFlags(fs)
	amount := fs.String("amount", "", "deposit amount")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if code := validateTimelockKey(stderr, *depositor, *withdrawer, *asset); code != 0 {
		return code
	}
	if *amount == "" {
		return printFlagError(stderr, "--amount is required")
	}
	if _, ok := new(big.Int).SetString(*amount, 10); !ok {
		return printFlagError(stderr, "--amount must be a base-10 integer")
	}
	result, rpcErr, err := rpcCall("timelock_deposit", map[string]interface{}{
		"depositor":  *depositor,
		"withdrawer": *withdrawer,
		"asset":      *asset,
		"amount":     *amount,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runTimelockAction(method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(method, flag.ContinueOnError)
	fs.SetOutput(stderr)
	depositor, withdrawer, asset := timelockKeyFlags(fs)
	caller := fs.String("caller", "", "acting party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if code := validateTimelockKey(stderr, *depositor, *withdrawer, *asset); code != 0 {
		return code
	}
	if *caller == "" {
		return printFlagError(stderr, "--caller is required")
	}
	result, rpcErr, err := rpcCall(method, map[string]interface{}{
		"depositor":  *depositor,
		"withdrawer": *withdrawer,
		"asset":      *asset,
		"caller":     *caller,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runTimelockGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("timelock get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	depositor, withdrawer, asset := timelockKeyFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if code := validateTimelockKey(stderr, *depositor, *withdrawer, *asset); code != 0 {
		return code
	}
	result, rpcErr, err := rpcCall("timelock_get", map[string]interface{}{
		"depositor":  *depositor,
		"withdrawer": *withdrawer,
		"asset":      *asset,
	}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}
