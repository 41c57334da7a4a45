package main

import (
	"flag"
	"fmt"
	"io"
	"math/big"
	"strings"
)

func runSettlementCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, settlementUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runSettlementCreate(args[1:], stdout, stderr)
	case "get":
		return runSettlementGet(args[1:], stdout, stderr)
	case "list":
		return runSettlementList(args[1:], stdout, stderr)
	case "milestones":
		return runSettlementMilestones(args[1:], stdout, stderr)
	case "fund":
		return runSettlementActor("settlement_fund", args[1:], stdout, stderr)
	case "deliver":
		return runSettlementActor("settlement_markDelivered", args[1:], stdout, stderr)
	case "confirm":
		return runSettlementActor("settlement_confirmDelivery", args[1:], stdout, stderr)
	case "approve":
		return runSettlementActor("settlement_approve", args[1:], stdout, stderr)
	case "cancel":
		return runSettlementActor("settlement_cancel", args[1:], stdout, stderr)
	case "verify":
		return runSettlementVerify(args[1:], stdout, stderr)
	case "request-refund":
		return runSettlementReason("settlement_requestRefund", args[1:], stdout, stderr)
	case "process-refund":
		return runSettlementProcessRefund(args[1:], stdout, stderr)
	case "dispute":
		return runSettlementReason("settlement_dispute", args[1:], stdout, stderr)
	case "resolve":
		return runSettlementResolve(args[1:], stdout, stderr)
	case "propose-cancel":
		return runSettlementActor("settlement_proposeCancellation", args[1:], stdout, stderr)
	case "agree-cancel":
		return runSettlementActor("settlement_agreeCancellation", args[1:], stdout, stderr)
	case "withdraw-cancel":
		return runSettlementActor("settlement_withdrawProposal", args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown settlement subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, settlementUsage())
		return 1
	}
}

func settlementUsage() string {
	return `Usage: custodia-cli settlement <subcommand> [flags]

Subcommands:
  create           create a settlement record
  get              fetch a record by id
  list             list records for a party
  milestones       list milestones of a record
  fund             fund a record (buyer)
  deliver          mark delivered (seller)
  confirm          confirm delivery (buyer)
  approve          register a threshold approval
  cancel           cancel an unfunded or unreleased record
  verify           evaluate the release condition
  request-refund   open a refund request
  process-refund   process a refund after the deadline or request
  dispute          open a dispute
  resolve          resolve a dispute (arbitrator or admin)
  propose-cancel   propose mutual cancellation
  agree-cancel     accept a cancellation proposal
  withdraw-cancel  retract a cancellation proposal`
}

func printFlagError(stderr io.Writer, message string) int {
	fmt.Fprintf(stderr, "Error: %s\n", message)
	return 1
}

func runSettlementCreate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement create", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		buyer        string
		seller       string
		arbitrator   string
		asset        string
		amount       string
		kind         string
		releaseAfter int64
		required     uint
		deadline     int64
		refundBy     int64
		milestones   string
	)
	fs.StringVar(&buyer, "buyer", "", "buyer bech32 address")
	fs.StringVar(&seller, "seller", "", "seller bech32 address")
	fs.StringVar(&arbitrator, "arbitrator", "", "optional arbitrator bech32 address")
	fs.StringVar(&asset, "asset", "", "asset symbol")
	fs.StringVar(&amount, "amount", "", "settlement amount")
	fs.StringVar(&kind, "condition", "counterparty", "release condition: time, counterparty, oracle, threshold or milestones")
	fs.Int64Var(&releaseAfter, "release-after", 0, "unix release time for the time condition")
	fs.UintVar(&required, "required", 0, "approvals required for the threshold condition")
	fs.Int64Var(&deadline, "delivery-deadline", 0, "optional unix delivery deadline")
	fs.Int64Var(&refundBy, "refund-deadline", 0, "optional unix refund deadline")
	fs.StringVar(&milestones, "milestones", "", "comma-separated description=amount pairs")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if buyer == "" || seller == "" {
		return printFlagError(stderr, "--buyer and --seller are required")
	}
	if asset == "" {
		return printFlagError(stderr, "--asset is required")
	}
	if amount == "" {
		return printFlagError(stderr, "--amount is required")
	}
	if _, ok := new(big.Int).SetString(amount, 10); !ok {
		return printFlagError(stderr, "--amount must be a base-10 integer")
	}

	params := map[string]interface{}{
		"buyer":  buyer,
		"seller": seller,
		"asset":  asset,
		"amount": amount,
		"condition": map[string]interface{}{
			"kind":         kind,
			"releaseAfter": releaseAfter,
			"required":     required,
		},
	}
	if arbitrator != "" {
		params["arbitrator"] = arbitrator
	}
	if deadline > 0 {
		params["deliveryDeadline"] = deadline
	}
	if refundBy > 0 {
		params["refundDeadline"] = refundBy
	}
	if milestones != "" {
		parsed, err := parseMilestoneFlag(milestones)
		if err != nil {
			return printFlagError(stderr, err.Error())
		}
		params["milestones"] = parsed
	}
	result, rpcErr, err := rpcCall("settlement_create", params, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func parseMilestoneFlag(value string) ([]map[string]string, error) {
	parts := strings.Split(value, ",")
	out := make([]map[string]string, 0, len(parts))
	for _, part := range parts {
		pair := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(pair) != 2 || pair[0] == "" || pair[1] == "" {
			return nil, fmt.Errorf("--milestones entries must look like description=amount, got %q", part)
		}
		if _, ok := new(big.Int).SetString(pair[1], 10); !ok {
			return nil, fmt.Errorf("milestone amount %q must be a base-10 integer", pair[1])
		}
		out = append(out, map[string]string{"description": pair[0], "amount": pair[1]})
	}
	return out, nil
}

func runSettlementGet(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement get", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	result, rpcErr, err := rpcCall("settlement_get", map[string]interface{}{"id": *id}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementList(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	party := fs.String("party", "", "party bech32 address")
	offset := fs.Int("offset", 0, "pagination offset")
	limit := fs.Int("limit", 0, "pagination limit")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *party == "" {
		return printFlagError(stderr, "--party is required")
	}
	result, rpcErr, err := rpcCall("settlement_listByParty", map[string]interface{}{
		"party": *party, "offset": *offset, "limit": *limit,
	}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementMilestones(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement milestones", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	result, rpcErr, err := rpcCall("settlement_milestones", map[string]interface{}{"id": *id}, false)
	return printResult(stdout, stderr, result, rpcErr, err)
}

// runSettlementActor covers the subcommands whose only inputs are a record id
// and the acting party.
func runSettlementActor(method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(method, flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	caller := fs.String("caller", "", "acting party bech32 address")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	if *caller == "" {
		return printFlagError(stderr, "--caller is required")
	}
	result, rpcErr, err := rpcCall(method, map[string]interface{}{"id": *id, "caller": *caller}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementReason(method string, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(method, flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	caller := fs.String("caller", "", "acting party bech32 address")
	reason := fs.String("reason", "", "optional reason")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	if *caller == "" {
		return printFlagError(stderr, "--caller is required")
	}
	result, rpcErr, err := rpcCall(method, map[string]interface{}{
		"id": *id, "caller": *caller, "reason": *reason,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementVerify(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	caller := fs.String("caller", "", "acting party bech32 address")
	oracle := fs.String("oracle-input", "", "oracle answer for the oracle condition: true or false")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	if *caller == "" {
		return printFlagError(stderr, "--caller is required")
	}
	params := map[string]interface{}{"id": *id, "caller": *caller}
	switch strings.ToLower(*oracle) {
	case "":
	case "true":
		params["oracleInput"] = true
	case "false":
		params["oracleInput"] = false
	default:
		return printFlagError(stderr, "--oracle-input must be true or false")
	}
	result, rpcErr, err := rpcCall("settlement_verifyCondition", params, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementProcessRefund(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement process-refund", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	result, rpcErr, err := rpcCall("settlement_processRefund", map[string]interface{}{"id": *id}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}

func runSettlementResolve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("settlement resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "record id")
	caller := fs.String("caller", "", "arbitrator or admin bech32 address")
	outcome := fs.String("outcome", "", "release or refund")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	if *id == 0 {
		return printFlagError(stderr, "--id is required")
	}
	if *caller == "" {
		return printFlagError(stderr, "--caller is required")
	}
	switch strings.ToLower(*outcome) {
	case "release", "refund":
	default:
		return printFlagError(stderr, "--outcome must be release or refund")
	}
	result, rpcErr, err := rpcCall("settlement_resolve", map[string]interface{}{
		"id": *id, "caller": *caller, "outcome": *outcome,
	}, true)
	return printResult(stdout, stderr, result, rpcErr, err)
}
