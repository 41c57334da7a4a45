package settlement

import (
	"errors"
	"math/big"
	"testing"
)

func milestoneParams(amounts ...int64) CreateParams {
	params := counterpartyParams(0)
	params.Condition = Condition{Kind: CondMilestones}
	total := big.NewInt(0)
	for i, amount := range amounts {
		params.Milestones = append(params.Milestones, MilestoneData{
			Description: []string{"design", "build", "ship"}[i%3],
			Amount:      big.NewInt(amount),
		})
		total.Add(total, big.NewInt(amount))
	}
	params.Amount = total
	return params
}

func TestCreateMilestonesValidatesSum(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	params := milestoneParams(40, 60)
	params.Amount = big.NewInt(110)
	if _, err := engine.Create(params); !errors.Is(err, ErrTotalMismatch) {
		t.Fatalf("sum mismatch: %v", err)
	}

	params = milestoneParams(40, 60)
	params.Milestones = nil
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidMilestoneData) {
		t.Fatalf("empty milestone list: %v", err)
	}

	params = milestoneParams(40, 60)
	params.Milestones[1].Amount = big.NewInt(0)
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidMilestoneData) {
		t.Fatalf("zero milestone amount: %v", err)
	}

	params = counterpartyParams(100)
	params.Milestones = []MilestoneData{{Description: "x", Amount: big.NewInt(100)}}
	if _, err := engine.Create(params); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("milestones on non-milestone condition: %v", err)
	}
}

func TestMilestoneApprovalReleasesTranche(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, milestoneParams(40, 60))

	if err := engine.CompleteMilestone(record.ID, buyer, 0); !errors.Is(err, ErrSellerOnly) {
		t.Fatalf("buyer completing: %v", err)
	}
	if err := engine.ApproveMilestone(record.ID, buyer, 0); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("approve pending milestone: %v", err)
	}
	if err := engine.CompleteMilestone(record.ID, seller, 0); err != nil {
		t.Fatalf("CompleteMilestone: %v", err)
	}
	if err := engine.ApproveMilestone(record.ID, seller, 0); !errors.Is(err, ErrBuyerOnly) {
		t.Fatalf("seller approving: %v", err)
	}
	if err := engine.ApproveMilestone(record.ID, buyer, 0); err != nil {
		t.Fatalf("ApproveMilestone: %v", err)
	}

	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusFunded {
		t.Fatalf("record completed with one milestone outstanding: %s", stored.Status)
	}
	if stored.Escrowed.Cmp(big.NewInt(60)) != 0 || stored.Released.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("custody: escrowed=%s released=%s", stored.Escrowed, stored.Released)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
}

func TestApprovingLastMilestoneCompletesRecord(t *testing.T) {
	engine, state, emitter := newTestEngine(t)
	record := createFunded(t, engine, state, milestoneParams(40, 60))

	for index := uint32(0); index < 2; index++ {
		if err := engine.CompleteMilestone(record.ID, seller, index); err != nil {
			t.Fatalf("CompleteMilestone %d: %v", index, err)
		}
		if err := engine.ApproveMilestone(record.ID, buyer, index); err != nil {
			t.Fatalf("ApproveMilestone %d: %v", index, err)
		}
	}

	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusCompleted || stored.Escrowed.Sign() != 0 {
		t.Fatalf("status=%s escrowed=%s", stored.Status, stored.Escrowed)
	}
	if got := state.balanceOf("CST", seller); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("seller balance: %s", got)
	}
	types := emitter.types()
	if types[len(types)-1] != EventTypeCompleted {
		t.Fatalf("events: %v", types)
	}
}

func TestMilestoneDisputeBlocksOnlyThatMilestone(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, milestoneParams(40, 60))

	if err := engine.CompleteMilestone(record.ID, seller, 0); err != nil {
		t.Fatalf("CompleteMilestone: %v", err)
	}
	if err := engine.DisputeMilestone(record.ID, rando, 0, "wrong spec"); !errors.Is(err, ErrParticipantOnly) {
		t.Fatalf("outsider dispute: %v", err)
	}
	if err := engine.DisputeMilestone(record.ID, buyer, 0, "wrong spec"); err != nil {
		t.Fatalf("DisputeMilestone: %v", err)
	}
	if err := engine.ApproveMilestone(record.ID, buyer, 0); !errors.Is(err, ErrWrongStatus) {
		t.Fatalf("approve disputed milestone: %v", err)
	}

	// The other milestone still flows normally.
	if err := engine.CompleteMilestone(record.ID, seller, 1); err != nil {
		t.Fatalf("CompleteMilestone 1: %v", err)
	}
	if err := engine.ApproveMilestone(record.ID, buyer, 1); err != nil {
		t.Fatalf("ApproveMilestone 1: %v", err)
	}
	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Status != StatusFunded || stored.Escrowed.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("status=%s escrowed=%s", stored.Status, stored.Escrowed)
	}
}

func TestResolveMilestoneToBuyerRefundsTranche(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, milestoneParams(40, 60))

	if err := engine.CompleteMilestone(record.ID, seller, 0); err != nil {
		t.Fatalf("CompleteMilestone: %v", err)
	}
	if err := engine.DisputeMilestone(record.ID, buyer, 0, "unusable"); err != nil {
		t.Fatalf("DisputeMilestone: %v", err)
	}
	if err := engine.ResolveMilestone(record.ID, buyer, 0, false); !errors.Is(err, ErrAdminOnly) {
		t.Fatalf("participant resolving: %v", err)
	}
	if err := engine.ResolveMilestone(record.ID, admin, 0, false); err != nil {
		t.Fatalf("ResolveMilestone: %v", err)
	}

	stored, _, _ := state.SettlementGet(record.ID)
	if stored.Refunded.Cmp(big.NewInt(40)) != 0 || stored.Escrowed.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("custody: refunded=%s escrowed=%s", stored.Refunded, stored.Escrowed)
	}
	if got := state.balanceOf("CST", buyer); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("buyer balance: %s", got)
	}
	ms, _, _ := state.MilestoneGet(record.ID, 0)
	if ms.Status != MilestoneResolved {
		t.Fatalf("milestone status: %s", ms.Status)
	}
}

func TestMilestoneOpsRejectNonMilestoneRecord(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, counterpartyParams(100))
	if err := engine.CompleteMilestone(record.ID, seller, 0); !errors.Is(err, ErrInvalidCondition) {
		t.Fatalf("milestone op on plain record: %v", err)
	}
}

func TestMilestoneIndexOutOfRange(t *testing.T) {
	engine, state, _ := newTestEngine(t)
	record := createFunded(t, engine, state, milestoneParams(40, 60))
	if err := engine.CompleteMilestone(record.ID, seller, 2); !errors.Is(err, ErrMilestoneNotFound) {
		t.Fatalf("out of range index: %v", err)
	}
}
