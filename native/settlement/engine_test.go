package settlement

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"custodia/core/events"
)

type mockState struct {
	records    map[uint64]*Record
	milestones map[string]*Milestone
	deposits   map[string]*Deposit
	index      map[[20]byte][]uint64
	balances   map[string]map[[20]byte]*big.Int
	vaultAddrs map[string][20]byte
	nextID     uint64
}

func newMockState() *mockState {
	return &mockState{
		records:    make(map[uint64]*Record),
		milestones: make(map[string]*Milestone),
		deposits:   make(map[string]*Deposit),
		index:      make(map[[20]byte][]uint64),
		balances:   make(map[string]map[[20]byte]*big.Int),
		vaultAddrs: map[string][20]byte{
			"CST":  newTestAddress(0xAA),
			"USDC": newTestAddress(0xBB),
		},
	}
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func milestoneKey(recordID uint64, index uint32) string {
	return fmt.Sprintf("%d/%d", recordID, index)
}

func depositKey(depositor, withdrawer [20]byte, asset string) string {
	return fmt.Sprintf("%x/%x/%s", depositor, withdrawer, asset)
}

func (m *mockState) SettlementPut(r *Record) error {
	if r == nil {
		return fmt.Errorf("nil record")
	}
	sanitized, err := Sanitize(r)
	if err != nil {
		return err
	}
	m.records[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) SettlementGet(id uint64) (*Record, bool, error) {
	r, ok := m.records[id]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockState) SettlementNextID() (uint64, error) {
	m.nextID++
	return m.nextID, nil
}

func (m *mockState) SettlementIndex(party [20]byte, id uint64) error {
	m.index[party] = append(m.index[party], id)
	return nil
}

func (m *mockState) MilestonePut(recordID uint64, ms *Milestone) error {
	if ms == nil {
		return fmt.Errorf("nil milestone")
	}
	m.milestones[milestoneKey(recordID, ms.Index)] = ms.Clone()
	return nil
}

func (m *mockState) MilestoneGet(recordID uint64, index uint32) (*Milestone, bool, error) {
	ms, ok := m.milestones[milestoneKey(recordID, index)]
	if !ok {
		return nil, false, nil
	}
	return ms.Clone(), true, nil
}

func (m *mockState) DepositPut(d *Deposit) error {
	if d == nil {
		return fmt.Errorf("nil deposit")
	}
	m.deposits[depositKey(d.Depositor, d.Withdrawer, d.Asset)] = d.Clone()
	return nil
}

func (m *mockState) DepositGet(depositor, withdrawer [20]byte, asset string) (*Deposit, bool, error) {
	d, ok := m.deposits[depositKey(depositor, withdrawer, asset)]
	if !ok {
		return nil, false, nil
	}
	return d.Clone(), true, nil
}

func (m *mockState) DepositDelete(depositor, withdrawer [20]byte, asset string) error {
	delete(m.deposits, depositKey(depositor, withdrawer, asset))
	return nil
}

func (m *mockState) VaultAddress(asset string) ([20]byte, error) {
	addr, ok := m.vaultAddrs[asset]
	if !ok {
		return [20]byte{}, fmt.Errorf("no vault for asset %s", asset)
	}
	return addr, nil
}

func (m *mockState) balanceOf(asset string, addr [20]byte) *big.Int {
	book, ok := m.balances[asset]
	if !ok {
		return big.NewInt(0)
	}
	bal, ok := book[addr]
	if !ok {
		return big.NewInt(0)
	}
	return new(big.Int).Set(bal)
}

func (m *mockState) credit(asset string, addr [20]byte, amount int64) {
	book, ok := m.balances[asset]
	if !ok {
		book = make(map[[20]byte]*big.Int)
		m.balances[asset] = book
	}
	bal, ok := book[addr]
	if !ok {
		bal = big.NewInt(0)
		book[addr] = bal
	}
	bal.Add(bal, big.NewInt(amount))
}

func (m *mockState) Transfer(asset string, from, to [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	book, ok := m.balances[asset]
	if !ok {
		return ErrInsufficientBalance
	}
	src, ok := book[from]
	if !ok || src.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	src.Sub(src, amount)
	dst, ok := book[to]
	if !ok {
		dst = big.NewInt(0)
		book[to] = dst
	}
	dst.Add(dst, amount)
	return nil
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	out := make([]string, 0, len(c.events))
	for _, evt := range c.events {
		out = append(out, evt.EventType())
	}
	return out
}

const testNow int64 = 1_700_000_000

func newTestEngine(t *testing.T) (*Engine, *mockState, *capturingEmitter) {
	t.Helper()
	state := newMockState()
	emitter := &capturingEmitter{}
	engine := NewEngine()
	engine.SetState(state)
	engine.SetEmitter(emitter)
	engine.SetAdmin(newTestAddress(0x01))
	engine.SetNowFunc(func() int64 { return testNow })
	return engine, state, emitter
}

var (
	admin  = newTestAddress(0x01)
	buyer  = newTestAddress(0x02)
	seller = newTestAddress(0x03)
	arb    = newTestAddress(0x04)
	rando  = newTestAddress(0x05)
)

func counterpartyParams(amount int64) CreateParams {
	return CreateParams{
		Buyer:     buyer,
		Seller:    seller,
		Asset:     "CST",
		Amount:    big.NewInt(amount),
		Condition: Condition{Kind: CondCounterparty},
	}
}

func createFunded(t *testing.T, engine *Engine, state *mockState, params CreateParams) *Record {
	t.Helper()
	record, err := engine.Create(params)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	state.credit(params.Asset, params.Buyer, params.Amount.Int64())
	if err := engine.Fund(record.ID, params.Buyer); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	return record
}

func TestCreateAssignsSequentialIDs(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	first, err := engine.Create(counterpartyParams(100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	second, err := engine.Create(counterpartyParams(200))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if second.ID != first.ID+1 {
		t.Fatalf("expected sequential ids, got %d then %d", first.ID, second.ID)
	}
	if got := state.index[buyer]; len(got) != 2 {
		t.Fatalf("buyer index: %v", got)
	}
	if got := state.index[seller]; len(got) != 2 {
		t.Fatalf("seller index: %v", got)
	}
}

func TestCreateRejectsBadInput(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	params := counterpartyParams(100)
	params.Amount = big.NewInt(0)
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}

	params = counterpartyParams(100)
	params.Seller = buyer
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("buyer==seller: %v", err)
	}

	params = counterpartyParams(100)
	params.Asset = "not-an-asset"
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bad asset: %v", err)
	}

	params = counterpartyParams(100)
	params.DeliveryDeadline = testNow - 1
	if _, err := engine.Create(params); !errors.Is(err, ErrDeadlineInPast) {
		t.Fatalf("past deadline: %v", err)
	}

	params = counterpartyParams(100)
	params.Condition = Condition{Kind: CondTime, ReleaseAfter: testNow - 10}
	if _, err := engine.Create(params); !errors.Is(err, ErrDeadlineInPast) {
		t.Fatalf("past release threshold: %v", err)
	}

	params = counterpartyParams(100)
	params.Condition = Condition{Kind: ConditionKind(99)}
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidCondition) {
		t.Fatalf("unknown condition: %v", err)
	}
}

func TestCreateRejectsThresholdAboveEligibleSet(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.Condition = Condition{Kind: CondThreshold, Required: 3}
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidCondition) {
		t.Fatalf("required 3 of 2: %v", err)
	}
	params.Arbitrator = arb
	if _, err := engine.Create(params); err != nil {
		t.Fatalf("required 3 of 3: %v", err)
	}
}

func TestFundMovesAmountIntoVault(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusFunded {
		t.Fatalf("status: %s", stored.Status)
	}
	if stored.Escrowed.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("escrowed: %s", stored.Escrowed)
	}
	vault := state.vaultAddrs["CST"]
	if got := state.balanceOf("CST", vault); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("vault balance: %s", got)
	}
	if got := state.balanceOf("CST", buyer); got.Sign() != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
	types := emitter.types()
	if len(types) != 2 || types[1] != EventTypeFunded {
		t.Fatalf("events: %v", types)
	}
}

func TestFundRequiresBuyerAndSufficientBalance(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record, err := engine.Create(counterpartyParams(100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := engine.Fund(record.ID, seller); !errors.Is(err, ErrBuyerOnly) {
		t.Fatalf("seller funding: %v", err)
	}
	if err := engine.Fund(record.ID, buyer); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("unfunded buyer: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCreated {
		t.Fatalf("failed fund mutated status: %s", stored.Status)
	}
	state.credit("CST", buyer, 100)
	if err := engine.Fund(record.ID, buyer); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	if err := engine.Fund(record.ID, buyer); !errors.Is(err, ErrAlreadyFunded) {
		t.Fatalf("double fund: %v", err)
	}
}

func TestDeliveryFlowReleasesToSeller(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	if err := engine.MarkDelivered(record.ID, buyer); !errors.Is(err, ErrSellerOnly) {
		t.Fatalf("buyer marking delivery: %v", err)
	}
	if err := engine.ConfirmDelivery(record.ID, buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("confirm before delivery: %v", err)
	}
	if err := engine.MarkDelivered(record.ID, seller); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if err := engine.ConfirmDelivery(record.ID, seller); !errors.Is(err, ErrBuyerOnly) {
		t.Fatalf("seller confirming: %v", err)
	}
	if err := engine.ConfirmDelivery(record.ID, buyer); err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}

	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("status: %s", stored.Status)
	}
	if stored.Escrowed.Sign() != 0 || stored.Released.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("custody: escrowed=%s released=%s", stored.Escrowed, stored.Released)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
	types := emitter.types()
	if types[len(types)-1] != EventTypeReleased {
		t.Fatalf("events: %v", types)
	}
}

func TestMarkDeliveredAfterDeadlineFails(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.DeliveryDeadline = testNow + 100
	record := createFunded(t, engine, state, params)

	engine.SetNowFunc(func() int64 { return testNow + 101 })
	if err := engine.MarkDelivered(record.ID, seller); !errors.Is(err, ErrExpired) {
		t.Fatalf("late delivery: %v", err)
	}
}

func TestVerifyConditionTime(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.Condition = Condition{Kind: CondTime, ReleaseAfter: testNow + 1000}
	record := createFunded(t, engine, state, params)

	if err := engine.VerifyCondition(record.ID, rando, nil); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("early verify: %v", err)
	}
	engine.SetNowFunc(func() int64 { return testNow + 1000 })
	if err := engine.VerifyCondition(record.ID, rando, nil); err != nil {
		t.Fatalf("verify at threshold: %v", err)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
}

func TestVerifyConditionCounterparty(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	if err := engine.VerifyCondition(record.ID, seller, nil); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("seller verifying buyer approval: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, buyer, nil); err != nil {
		t.Fatalf("buyer approval: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("status: %s", stored.Status)
	}
}

func TestVerifyConditionOracle(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.Condition = Condition{Kind: CondOracle}
	record := createFunded(t, engine, state, params)

	yes, no := true, false
	if err := engine.VerifyCondition(record.ID, buyer, &yes); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin attestation: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, admin, &no); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("negative attestation: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, admin, nil); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("missing attestation: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, admin, &yes); err != nil {
		t.Fatalf("affirmative attestation: %v", err)
	}
}

func TestThresholdApprovalFlow(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.Arbitrator = arb
	params.Condition = Condition{Kind: CondThreshold, Required: 2}
	record := createFunded(t, engine, state, params)

	if err := engine.Approve(record.ID, rando); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("outsider approval: %v", err)
	}
	if err := engine.Approve(record.ID, buyer); err != nil {
		t.Fatalf("buyer approval: %v", err)
	}
	if err := engine.Approve(record.ID, buyer); !errors.Is(err, ErrAlreadyApproved) {
		t.Fatalf("double approval: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, buyer, nil); !errors.Is(err, ErrNotEnoughApprovals) {
		t.Fatalf("1 of 2 verify: %v", err)
	}
	if err := engine.Approve(record.ID, arb); err != nil {
		t.Fatalf("arbitrator approval: %v", err)
	}
	if err := engine.VerifyCondition(record.ID, rando, nil); err != nil {
		t.Fatalf("2 of 2 verify: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCompleted {
		t.Fatalf("status: %s", stored.Status)
	}
}

func TestCancelBeforeFundingLeavesBalancesAlone(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record, err := engine.Create(counterpartyParams(100))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := engine.Cancel(record.ID, rando); !errors.Is(err, ErrParticipantOnly) {
		t.Fatalf("outsider cancel: %v", err)
	}
	if err := engine.Cancel(record.ID, buyer); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCancelled {
		t.Fatalf("status: %s", stored.Status)
	}
	if err := engine.Cancel(record.ID, buyer); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("cancel terminal record: %v", err)
	}
}

func TestCancelAfterFundingRefundsBuyer(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))
	if err := engine.Cancel(record.ID, seller); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("buyer balance after refund: %s", got)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Refunded.Cmp(big.NewInt(100)) != 0 || stored.Escrowed.Sign() != 0 {
		t.Fatalf("custody: refunded=%s escrowed=%s", stored.Refunded, stored.Escrowed)
	}
}

func TestRefundRequestLifecycle(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.RefundDeadline = testNow + 500
	record := createFunded(t, engine, state, params)

	if err := engine.RequestRefund(record.ID, rando, "nope"); !errors.Is(err, ErrParticipantOnly) {
		t.Fatalf("outsider request: %v", err)
	}
	if err := engine.RequestRefund(record.ID, buyer, "never arrived"); err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if err := engine.RequestRefund(record.ID, seller, "me too"); !errors.Is(err, ErrAlreadyRequested) {
		t.Fatalf("second request: %v", err)
	}
	if err := engine.ProcessRefund(record.ID); err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("status: %s", stored.Status)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
}

func TestRequestRefundAfterDeadlineFails(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.RefundDeadline = testNow + 500
	record := createFunded(t, engine, state, params)

	engine.SetNowFunc(func() int64 { return testNow + 501 })
	if err := engine.RequestRefund(record.ID, buyer, "too late"); !errors.Is(err, ErrExpired) {
		t.Fatalf("late request: %v", err)
	}
}

func TestProcessRefundAfterDeliveryDeadline(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	params := counterpartyParams(100)
	params.DeliveryDeadline = testNow + 100
	record := createFunded(t, engine, state, params)

	if err := engine.ProcessRefund(record.ID); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("early refund: %v", err)
	}
	engine.SetNowFunc(func() int64 { return testNow + 101 })
	if err := engine.ProcessRefund(record.ID); err != nil {
		t.Fatalf("ProcessRefund: %v", err)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
}

func TestSellerRefundRequestNeedsAdminResolution(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	if err := engine.RequestRefund(record.ID, seller, "order fell through"); err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if err := engine.ProcessRefund(record.ID); !errors.Is(err, ErrConditionNotMet) {
		t.Fatalf("seller request should not auto-refund: %v", err)
	}
	if err := engine.ResolveRefund(record.ID, seller, true); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("non-admin resolve: %v", err)
	}
	if err := engine.ResolveRefund(record.ID, admin, true); err != nil {
		t.Fatalf("ResolveRefund: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("status: %s", stored.Status)
	}
}

func TestResolveRefundDenyClearsRequest(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	if err := engine.RequestRefund(record.ID, buyer, "changed my mind"); err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if err := engine.ResolveRefund(record.ID, admin, false); err != nil {
		t.Fatalf("ResolveRefund deny: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusFunded || stored.RefundRequester != ([20]byte{}) {
		t.Fatalf("deny should only clear the request: status=%s requester=%x", stored.Status, stored.RefundRequester)
	}
}

func TestDisputeAndResolveWithArbitrator(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	params := counterpartyParams(100)
	params.Arbitrator = arb
	record := createFunded(t, engine, state, params)

	if err := engine.Dispute(record.ID, rando, "bad goods"); !errors.Is(err, ErrParticipantOnly) {
		t.Fatalf("outsider dispute: %v", err)
	}
	if err := engine.Resolve(record.ID, arb, true); !errors.Is(err, ErrNotDisputed) {
		t.Fatalf("resolve without dispute: %v", err)
	}
	if err := engine.Dispute(record.ID, buyer, "bad goods"); err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if err := engine.Dispute(record.ID, seller, "again"); !errors.Is(err, ErrAlreadyDisputed) {
		t.Fatalf("double dispute: %v", err)
	}
	if err := engine.Resolve(record.ID, admin, true); !errors.Is(err, ErrArbitratorOnly) {
		t.Fatalf("admin resolving arbitrator-bound record: %v", err)
	}
	if err := engine.Resolve(record.ID, arb, true); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
	if err := engine.Resolve(record.ID, arb, false); !errors.Is(err, ErrNotDisputed) {
		t.Fatalf("resolve terminal record: %v", err)
	}
	types := emitter.types()
	if types[len(types)-1] != EventTypeResolved {
		t.Fatalf("events: %v", types)
	}
}

func TestResolveWithoutArbitratorFallsBackToAdmin(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))

	if err := engine.Dispute(record.ID, seller, "payment stuck"); err != nil {
		t.Fatalf("Dispute: %v", err)
	}
	if err := engine.Resolve(record.ID, buyer, false); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("participant resolving: %v", err)
	}
	if err := engine.Resolve(record.ID, admin, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusRefunded {
		t.Fatalf("status: %s", stored.Status)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
}

func TestOperationsOnMissingRecord(t *testing.T) {
	engine, _, _ := newTestEngine(t)
	if err := engine.Fund(42, buyer); !errors.Is(err, ErrNotFound) {
		t.Fatalf("fund missing: %v", err)
	}
	if err := engine.Dispute(42, buyer, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("dispute missing: %v", err)
	}
}
