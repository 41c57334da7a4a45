package state

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"custodia/native/settlement"
	"custodia/storage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(storage.NewMemDB())
}

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func TestAccountRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	addr := testAddr(0x11)

	acc, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acc.Nonce != 0 || len(acc.Balances) != 0 {
		t.Fatalf("missing account not empty: %+v", acc)
	}

	acc.Nonce = 7
	acc.SetBalance("CST", big.NewInt(1234))
	acc.SetBalance("USDC", big.NewInt(999))
	if err := manager.PutAccount(addr, acc); err != nil {
		t.Fatalf("PutAccount: %v", err)
	}

	loaded, err := manager.GetAccount(addr)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if loaded.Nonce != 7 {
		t.Fatalf("nonce: %d", loaded.Nonce)
	}
	if got := loaded.BalanceOf("CST"); got.Cmp(big.NewInt(1234)) != 0 {
		t.Fatalf("CST balance: %s", got)
	}
	if got := loaded.BalanceOf("USDC"); got.Cmp(big.NewInt(999)) != 0 {
		t.Fatalf("USDC balance: %s", got)
	}
}

func TestTransfer(t *testing.T) {
	manager := newTestManager(t)
	from := testAddr(0x11)
	to := testAddr(0x22)
	if err := manager.Credit(from, "CST", big.NewInt(100)); err != nil {
		t.Fatalf("Credit: %v", err)
	}

	if err := manager.Transfer("CST", from, to, big.NewInt(150)); !errors.Is(err, settlement.ErrInsufficientBalance) {
		t.Fatalf("overdraw: %v", err)
	}
	if err := manager.Transfer("CST", from, to, big.NewInt(60)); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	src, _ := manager.GetAccount(from)
	dst, _ := manager.GetAccount(to)
	if got := src.BalanceOf("CST"); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("source balance: %s", got)
	}
	if got := dst.BalanceOf("CST"); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("destination balance: %s", got)
	}
}

func TestVaultAddressDeterministicPerAsset(t *testing.T) {
	manager := newTestManager(t)
	first, err := manager.VaultAddress("CST")
	if err != nil {
		t.Fatalf("VaultAddress: %v", err)
	}
	again, _ := manager.VaultAddress("cst")
	if first != again {
		t.Fatalf("vault address not deterministic across case: %x vs %x", first, again)
	}
	other, _ := manager.VaultAddress("USDC")
	if first == other {
		t.Fatalf("distinct assets share a vault")
	}
	if _, err := manager.VaultAddress("bad asset"); err == nil {
		t.Fatalf("expected invalid symbol to fail")
	}
}

func settlementFixture(id uint64) *settlement.Record {
	return &settlement.Record{
		ID:        id,
		Buyer:     testAddr(0x11),
		Seller:    testAddr(0x22),
		Asset:     "CST",
		Amount:    big.NewInt(100),
		Escrowed:  big.NewInt(0),
		Released:  big.NewInt(0),
		Refunded:  big.NewInt(0),
		Status:    settlement.StatusCreated,
		Condition: settlement.Condition{Kind: settlement.CondCounterparty},
		CreatedAt: 1_700_000_000,
	}
}

func TestSettlementRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	record := settlementFixture(1)
	record.Condition = settlement.Condition{Kind: settlement.CondTime, ReleaseAfter: 1_700_000_999}
	record.DeliveryDeadline = 1_700_010_000
	record.ProposalStatus = settlement.ProposalByBuyer
	record.ProposedAt = 1_700_000_500
	record.ResponseWindow = 3600

	if err := manager.SettlementPut(record); err != nil {
		t.Fatalf("SettlementPut: %v", err)
	}
	loaded, ok, err := manager.SettlementGet(1)
	if err != nil || !ok {
		t.Fatalf("SettlementGet: ok=%v err=%v", ok, err)
	}
	if loaded.Buyer != record.Buyer || loaded.Seller != record.Seller {
		t.Fatalf("parties mutated")
	}
	if loaded.Condition.Kind != settlement.CondTime || loaded.Condition.ReleaseAfter != 1_700_000_999 {
		t.Fatalf("condition: %+v", loaded.Condition)
	}
	if loaded.ProposalStatus != settlement.ProposalByBuyer || loaded.ProposedAt != 1_700_000_500 {
		t.Fatalf("proposal: %s at %d", loaded.ProposalStatus, loaded.ProposedAt)
	}
	if loaded.DeliveryDeadline != 1_700_010_000 {
		t.Fatalf("deadline: %d", loaded.DeliveryDeadline)
	}
}

func TestSettlementGetMissing(t *testing.T) {
	manager := newTestManager(t)
	if _, ok, err := manager.SettlementGet(99); err != nil || ok {
		t.Fatalf("missing record: ok=%v err=%v", ok, err)
	}
}

func TestSettlementNextIDStartsAtOne(t *testing.T) {
	manager := newTestManager(t)
	first, err := manager.SettlementNextID()
	if err != nil {
		t.Fatalf("SettlementNextID: %v", err)
	}
	if first != 1 {
		t.Fatalf("first id: %d", first)
	}
	second, _ := manager.SettlementNextID()
	if second != 2 {
		t.Fatalf("second id: %d", second)
	}
}

func TestSettlementIndexPagination(t *testing.T) {
	manager := newTestManager(t)
	party := testAddr(0x33)
	for id := uint64(1); id <= 5; id++ {
		if err := manager.SettlementIndex(party, id); err != nil {
			t.Fatalf("SettlementIndex: %v", err)
		}
	}
	// Re-indexing an id is a no-op.
	if err := manager.SettlementIndex(party, 3); err != nil {
		t.Fatalf("SettlementIndex repeat: %v", err)
	}

	page, err := manager.SettlementsByParty(party, 0, 3)
	if err != nil {
		t.Fatalf("SettlementsByParty: %v", err)
	}
	if len(page) != 3 || page[0] != 1 || page[2] != 3 {
		t.Fatalf("first page: %v", page)
	}
	page, _ = manager.SettlementsByParty(party, 3, 3)
	if len(page) != 2 || page[1] != 5 {
		t.Fatalf("second page: %v", page)
	}
	page, _ = manager.SettlementsByParty(party, 50, 3)
	if len(page) != 0 {
		t.Fatalf("out of range page: %v", page)
	}
}

func TestMilestoneRoundTrip(t *testing.T) {
	manager := newTestManager(t)
	ms := &settlement.Milestone{
		Index:       1,
		Description: "build",
		Amount:      big.NewInt(60),
		Status:      settlement.MilestoneCompleted,
		CompletedAt: 1_700_000_100,
	}
	if err := manager.MilestonePut(7, ms); err != nil {
		t.Fatalf("MilestonePut: %v", err)
	}
	loaded, ok, err := manager.MilestoneGet(7, 1)
	if err != nil || !ok {
		t.Fatalf("MilestoneGet: ok=%v err=%v", ok, err)
	}
	if loaded.Description != "build" || loaded.Status != settlement.MilestoneCompleted || loaded.CompletedAt != 1_700_000_100 {
		t.Fatalf("milestone: %+v", loaded)
	}
	if _, ok, _ := manager.MilestoneGet(7, 2); ok {
		t.Fatalf("missing milestone reported present")
	}
}

func TestDepositRoundTripAndDelete(t *testing.T) {
	manager := newTestManager(t)
	deposit := &settlement.Deposit{
		Depositor:  testAddr(0x11),
		Withdrawer: testAddr(0x22),
		Asset:      "CST",
		Amount:     big.NewInt(500),
		CreatedAt:  1_700_000_000,
		UnlocksAt:  1_700_086_400,
	}
	if err := manager.DepositPut(deposit); err != nil {
		t.Fatalf("DepositPut: %v", err)
	}
	loaded, ok, err := manager.DepositGet(deposit.Depositor, deposit.Withdrawer, "CST")
	if err != nil || !ok {
		t.Fatalf("DepositGet: ok=%v err=%v", ok, err)
	}
	if loaded.UnlocksAt != deposit.UnlocksAt || loaded.Amount.Cmp(deposit.Amount) != 0 {
		t.Fatalf("deposit: %+v", loaded)
	}
	if err := manager.DepositDelete(deposit.Depositor, deposit.Withdrawer, "CST"); err != nil {
		t.Fatalf("DepositDelete: %v", err)
	}
	if _, ok, _ := manager.DepositGet(deposit.Depositor, deposit.Withdrawer, "CST"); ok {
		t.Fatalf("deleted deposit still present")
	}
}

func TestOverlayDiscardsFailedWrites(t *testing.T) {
	base := storage.NewMemDB()
	overlay := storage.NewOverlay(base)
	manager := NewManager(overlay)

	record := settlementFixture(1)
	record.Condition = settlement.Condition{Kind: settlement.CondCounterparty}
	if err := manager.SettlementPut(record); err != nil {
		t.Fatalf("SettlementPut: %v", err)
	}
	overlay.Discard()
	if err := overlay.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	committed := NewManager(base)
	if _, ok, _ := committed.SettlementGet(1); ok {
		t.Fatalf("discarded write reached base store")
	}
}
