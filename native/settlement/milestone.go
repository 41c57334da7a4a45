package settlement

import (
	"fmt"
	"math/big"
	"strings"
)

// MilestoneStatus tracks the lifecycle of a single milestone inside a
// milestone-conditioned record.
type MilestoneStatus uint8

const (
	MilestonePending MilestoneStatus = iota
	MilestoneCompleted
	MilestoneApproved
	MilestoneDisputed
	MilestoneResolved
)

// String returns the canonical lowercase name used in events and RPC.
func (s MilestoneStatus) String() string {
	switch s {
	case MilestonePending:
		return "pending"
	case MilestoneCompleted:
		return "completed"
	case MilestoneApproved:
		return "approved"
	case MilestoneDisputed:
		return "disputed"
	case MilestoneResolved:
		return "resolved"
	default:
		return fmt.Sprintf("milestone(%d)", uint8(s))
	}
}

// MilestoneData is the creation-time description of one milestone.
type MilestoneData struct {
	Description string
	Amount      *big.Int
}

// Milestone is the stored per-milestone state. Milestones are keyed by
// (record id, index) and their indices are fixed at creation.
type Milestone struct {
	Index       uint32
	Description string
	Amount      *big.Int
	Status      MilestoneStatus
	CompletedAt int64
	ApprovedAt  int64
}

// Clone returns a deep copy of the milestone.
func (m *Milestone) Clone() *Milestone {
	if m == nil {
		return nil
	}
	clone := *m
	clone.Amount = cloneBigInt(m.Amount)
	return &clone
}

// buildMilestones validates creation input: at least one milestone, every
// amount positive, and the amounts summing exactly to the record total.
func buildMilestones(data []MilestoneData, total *big.Int) ([]*Milestone, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone required", ErrInvalidMilestoneData)
	}
	sum := big.NewInt(0)
	milestones := make([]*Milestone, 0, len(data))
	for i, d := range data {
		desc := strings.TrimSpace(d.Description)
		if desc == "" {
			return nil, fmt.Errorf("%w: milestone %d missing description", ErrInvalidMilestoneData, i)
		}
		amount := cloneBigInt(d.Amount)
		if amount.Sign() <= 0 {
			return nil, fmt.Errorf("%w: milestone %d amount must be positive", ErrInvalidMilestoneData, i)
		}
		sum.Add(sum, amount)
		milestones = append(milestones, &Milestone{
			Index:       uint32(i),
			Description: desc,
			Amount:      amount,
			Status:      MilestonePending,
		})
	}
	if sum.Cmp(total) != 0 {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrTotalMismatch, sum, total)
	}
	return milestones, nil
}

func (e *Engine) loadMilestone(record *Record, index uint32) (*Milestone, error) {
	if index >= record.MilestoneCount {
		return nil, fmt.Errorf("%w: index %d", ErrMilestoneNotFound, index)
	}
	m, ok, err := e.state.MilestoneGet(record.ID, index)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: index %d", ErrMilestoneNotFound, index)
	}
	return m, nil
}

func requireMilestoneRecord(record *Record) error {
	if record.Condition.Kind != CondMilestones {
		return fmt.Errorf("%w: record has no milestones", ErrInvalidCondition)
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: milestone operations require status funded, have %s", ErrWrongStatus, record.Status)
	}
	return nil
}

// CompleteMilestone lets the seller flag a pending milestone as delivered.
func (e *Engine) CompleteMilestone(id uint64, caller [20]byte, index uint32) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if err := requireMilestoneRecord(record); err != nil {
		return err
	}
	if caller != record.Seller {
		return fmt.Errorf("%w: complete milestone", ErrSellerOnly)
	}
	m, err := e.loadMilestone(record, index)
	if err != nil {
		return err
	}
	if m.Status != MilestonePending {
		return fmt.Errorf("%w: milestone %d is %s", ErrWrongStatus, index, m.Status)
	}
	m.Status = MilestoneCompleted
	m.CompletedAt = e.now()
	if err := e.state.MilestonePut(id, m); err != nil {
		return err
	}
	e.emit(NewMilestoneCompletedEvent(record, m))
	return nil
}

// ApproveMilestone lets the buyer accept a completed milestone, releasing
// that milestone's tranche from escrow to the seller. Approving the last
// outstanding milestone completes the record.
func (e *Engine) ApproveMilestone(id uint64, caller [20]byte, index uint32) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if err := requireMilestoneRecord(record); err != nil {
		return err
	}
	if caller != record.Buyer {
		return fmt.Errorf("%w: approve milestone", ErrBuyerOnly)
	}
	m, err := e.loadMilestone(record, index)
	if err != nil {
		return err
	}
	if m.Status != MilestoneCompleted {
		return fmt.Errorf("%w: milestone %d is %s", ErrWrongStatus, index, m.Status)
	}
	return e.payMilestone(record, m, record.Seller, MilestoneApproved)
}

// DisputeMilestone lets either participant flag a completed milestone as
// contested. The record as a whole stays funded; only the milestone blocks.
func (e *Engine) DisputeMilestone(id uint64, caller [20]byte, index uint32, reason string) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if err := requireMilestoneRecord(record); err != nil {
		return err
	}
	if !record.IsParticipant(caller) {
		return fmt.Errorf("%w: dispute milestone", ErrParticipantOnly)
	}
	m, err := e.loadMilestone(record, index)
	if err != nil {
		return err
	}
	if m.Status != MilestoneCompleted {
		return fmt.Errorf("%w: milestone %d is %s", ErrWrongStatus, index, m.Status)
	}
	m.Status = MilestoneDisputed
	if err := e.state.MilestonePut(id, m); err != nil {
		return err
	}
	e.emit(NewMilestoneDisputedEvent(record, m, caller, strings.TrimSpace(reason)))
	return nil
}

// ResolveMilestone settles a disputed milestone: the tranche goes to the
// seller or back to the buyer. Resolution authority follows the record's
// arbitration binding, same as Resolve.
func (e *Engine) ResolveMilestone(id uint64, caller [20]byte, index uint32, releaseToSeller bool) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if err := requireMilestoneRecord(record); err != nil {
		return err
	}
	if record.HasArbitrator() {
		if caller != record.Arbitrator {
			return fmt.Errorf("%w: resolve milestone", ErrArbitratorOnly)
		}
	} else if caller != e.admin || e.admin == ([20]byte{}) {
		return fmt.Errorf("%w: resolve milestone", ErrAdminOnly)
	}
	m, err := e.loadMilestone(record, index)
	if err != nil {
		return err
	}
	if m.Status != MilestoneDisputed {
		return fmt.Errorf("%w: milestone %d is %s", ErrWrongStatus, index, m.Status)
	}
	recipient := record.Seller
	if !releaseToSeller {
		recipient = record.Buyer
	}
	return e.payMilestone(record, m, recipient, MilestoneResolved)
}

// payMilestone transfers one milestone tranche out of the vault, marks the
// milestone settled and completes the record once nothing remains in escrow.
func (e *Engine) payMilestone(record *Record, m *Milestone, recipient [20]byte, final MilestoneStatus) error {
	vault, err := e.state.VaultAddress(record.Asset)
	if err != nil {
		return err
	}
	amount := cloneBigInt(m.Amount)
	if record.Escrowed.Cmp(amount) < 0 {
		return fmt.Errorf("%w: escrow below milestone amount", ErrInsufficientBalance)
	}
	if err := e.state.Transfer(record.Asset, vault, recipient, amount); err != nil {
		return err
	}
	record.Escrowed = new(big.Int).Sub(record.Escrowed, amount)
	if recipient == record.Buyer {
		record.Refunded = new(big.Int).Add(record.Refunded, amount)
	} else {
		record.Released = new(big.Int).Add(record.Released, amount)
	}
	m.Status = final
	m.ApprovedAt = e.now()
	if record.Escrowed.Sign() == 0 {
		record.Status = StatusCompleted
		record.CompletedAt = e.now()
	}
	if err := e.state.MilestonePut(record.ID, m); err != nil {
		return err
	}
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewMilestoneSettledEvent(record, m, recipient, amount))
	if record.Status == StatusCompleted {
		e.emit(NewCompletedEvent(record))
	}
	return nil
}
