package settlement

import (
	"errors"
	"math/big"
	"testing"
)

func newTestVault(t *testing.T) (*Vault, *mockState) {
	t.Helper()
	state := newMockState()
	vault := NewVault()
	vault.SetState(state)
	vault.SetLockDuration(86400)
	vault.SetClawbackDelay(604800)
	vault.SetNowFunc(func() int64 { return testNow })
	return vault, state
}

func TestDepositLocksFunds(t *testing.T) {
	vault, state := newTestVault(t)
	state.credit("CST", buyer, 500)

	deposit, err := vault.Deposit(buyer, seller, "cst", big.NewInt(500))
	if err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if deposit.Asset != "CST" {
		t.Fatalf("asset not normalised: %s", deposit.Asset)
	}
	if deposit.UnlocksAt != testNow+86400 {
		t.Fatalf("unlocksAt: %d", deposit.UnlocksAt)
	}
	if got := state.balanceOf("CST", buyer); got.Sign() != 0 {
		t.Fatalf("depositor balance: %s", got)
	}
	if got := state.balanceOf("CST", state.vaultAddrs["CST"]); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("vault balance: %s", got)
	}
}

func TestDepositRejectsDuplicateTriple(t *testing.T) {
	vault, state := newTestVault(t)
	state.credit("CST", buyer, 1000)
	state.credit("USDC", buyer, 1000)

	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(400)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(100)); !errors.Is(err, ErrDuplicateDeposit) {
		t.Fatalf("duplicate triple: %v", err)
	}
	// A different asset or counterparty is a separate slot.
	if _, err := vault.Deposit(buyer, seller, "USDC", big.NewInt(100)); err != nil {
		t.Fatalf("different asset: %v", err)
	}
	if _, err := vault.Deposit(buyer, arb, "CST", big.NewInt(100)); err != nil {
		t.Fatalf("different withdrawer: %v", err)
	}
}

func TestDepositRejectsBadInput(t *testing.T) {
	vault, state := newTestVault(t)
	state.credit("CST", buyer, 100)

	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := vault.Deposit(buyer, buyer, "CST", big.NewInt(10)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("self deposit: %v", err)
	}
	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(200)); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("over balance: %v", err)
	}
}

func TestWithdrawBoundary(t *testing.T) {
	vault, state := newTestVault(t)
	state.credit("CST", buyer, 500)
	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := vault.Withdraw(buyer, seller, "CST", buyer); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("depositor withdrawing: %v", err)
	}

	// One second before unlock the deposit is still locked.
	vault.SetNowFunc(func() int64 { return testNow + 86399 })
	if err := vault.Withdraw(buyer, seller, "CST", seller); !errors.Is(err, ErrLocked) {
		t.Fatalf("early withdrawal: %v", err)
	}

	// At the unlock instant it succeeds.
	vault.SetNowFunc(func() int64 { return testNow + 86400 })
	if err := vault.Withdraw(buyer, seller, "CST", seller); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("withdrawer balance: %s", got)
	}

	// Settlement removes the entry; a second withdrawal finds nothing.
	if err := vault.Withdraw(buyer, seller, "CST", seller); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double withdrawal: %v", err)
	}
	if _, err := vault.Get(buyer, seller, "CST"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("settled deposit still stored: %v", err)
	}
}

func TestClawbackRequiresGracePeriod(t *testing.T) {
	vault, state := newTestVault(t)
	state.credit("CST", buyer, 500)
	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(500)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}

	if err := vault.Clawback(buyer, seller, "CST", seller); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("withdrawer clawing back: %v", err)
	}

	// Past unlock but inside the grace period only the withdrawer can act.
	vault.SetNowFunc(func() int64 { return testNow + 86400 + 604799 })
	if err := vault.Clawback(buyer, seller, "CST", buyer); !errors.Is(err, ErrLocked) {
		t.Fatalf("clawback inside grace period: %v", err)
	}

	vault.SetNowFunc(func() int64 { return testNow + 86400 + 604800 })
	if err := vault.Clawback(buyer, seller, "CST", buyer); err != nil {
		t.Fatalf("Clawback: %v", err)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("depositor balance: %s", got)
	}
	// A fresh deposit for the same triple is allowed after settlement.
	state.credit("CST", buyer, 100)
	if _, err := vault.Deposit(buyer, seller, "CST", big.NewInt(100)); err != nil {
		t.Fatalf("redeposit: %v", err)
	}
}
