package state

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"custodia/native/settlement"
)

// ListLimit caps a single page of the per-party settlement index.
const ListLimit = 100

func settlementKey(id uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return hashKey(settlementRecordKey, buf)
}

func settlementSeq() []byte {
	return hashKey(settlementSeqKey, nil)
}

func partyIndexKey(party [20]byte) []byte {
	return hashKey(settlementPartyPrefix, party[:])
}

func milestoneKey(recordID uint64, index uint32) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf, recordID)
	binary.BigEndian.PutUint32(buf[8:], index)
	return hashKey(milestonePrefix, buf)
}

// storedRecord is the RLP shape of a settlement record. RLP has no signed
// integers, so timestamps travel as *big.Int; the approval set is a plain
// slice in approval order.
type storedRecord struct {
	ID         uint64
	Buyer      [20]byte
	Seller     [20]byte
	Arbitrator [20]byte
	Asset      string
	Amount     *big.Int
	Escrowed   *big.Int
	Released   *big.Int
	Refunded   *big.Int
	Status     uint8

	ConditionKind uint8
	ReleaseAfter  *big.Int
	Required      uint32
	Approvals     [][20]byte

	CreatedAt   *big.Int
	FundedAt    *big.Int
	DeliveredAt *big.Int
	CompletedAt *big.Int
	CancelledAt *big.Int

	DeliveryDeadline *big.Int
	RefundDeadline   *big.Int

	DisputeReason    string
	DisputeRequester [20]byte
	DisputedAt       *big.Int

	RefundReason      string
	RefundRequester   [20]byte
	RefundRequestedAt *big.Int

	ProposalStatus uint8
	ProposedAt     *big.Int
	ResponseWindow *big.Int

	MilestoneCount uint32
}

func newStoredRecord(r *settlement.Record) *storedRecord {
	approvals := make([][20]byte, len(r.Condition.Approvals))
	copy(approvals, r.Condition.Approvals)
	return &storedRecord{
		ID:                r.ID,
		Buyer:             r.Buyer,
		Seller:            r.Seller,
		Arbitrator:        r.Arbitrator,
		Asset:             r.Asset,
		Amount:            cloneOrZero(r.Amount),
		Escrowed:          cloneOrZero(r.Escrowed),
		Released:          cloneOrZero(r.Released),
		Refunded:          cloneOrZero(r.Refunded),
		Status:            uint8(r.Status),
		ConditionKind:     uint8(r.Condition.Kind),
		ReleaseAfter:      big.NewInt(r.Condition.ReleaseAfter),
		Required:          r.Condition.Required,
		Approvals:         approvals,
		CreatedAt:         big.NewInt(r.CreatedAt),
		FundedAt:          big.NewInt(r.FundedAt),
		DeliveredAt:       big.NewInt(r.DeliveredAt),
		CompletedAt:       big.NewInt(r.CompletedAt),
		CancelledAt:       big.NewInt(r.CancelledAt),
		DeliveryDeadline:  big.NewInt(r.DeliveryDeadline),
		RefundDeadline:    big.NewInt(r.RefundDeadline),
		DisputeReason:     r.DisputeReason,
		DisputeRequester:  r.DisputeRequester,
		DisputedAt:        big.NewInt(r.DisputedAt),
		RefundReason:      r.RefundReason,
		RefundRequester:   r.RefundRequester,
		RefundRequestedAt: big.NewInt(r.RefundRequestedAt),
		ProposalStatus:    uint8(r.ProposalStatus),
		ProposedAt:        big.NewInt(r.ProposedAt),
		ResponseWindow:    big.NewInt(r.ResponseWindow),
		MilestoneCount:    r.MilestoneCount,
	}
}

func (s *storedRecord) toRecord() (*settlement.Record, error) {
	if s == nil {
		return nil, fmt.Errorf("state: nil stored record")
	}
	approvals := make([][20]byte, len(s.Approvals))
	copy(approvals, s.Approvals)
	record := &settlement.Record{
		ID:         s.ID,
		Buyer:      s.Buyer,
		Seller:     s.Seller,
		Arbitrator: s.Arbitrator,
		Asset:      s.Asset,
		Amount:     cloneOrZero(s.Amount),
		Escrowed:   cloneOrZero(s.Escrowed),
		Released:   cloneOrZero(s.Released),
		Refunded:   cloneOrZero(s.Refunded),
		Status:     settlement.Status(s.Status),
		Condition: settlement.Condition{
			Kind:         settlement.ConditionKind(s.ConditionKind),
			ReleaseAfter: toInt64(s.ReleaseAfter),
			Required:     s.Required,
			Approvals:    approvals,
		},
		CreatedAt:         toInt64(s.CreatedAt),
		FundedAt:          toInt64(s.FundedAt),
		DeliveredAt:       toInt64(s.DeliveredAt),
		CompletedAt:       toInt64(s.CompletedAt),
		CancelledAt:       toInt64(s.CancelledAt),
		DeliveryDeadline:  toInt64(s.DeliveryDeadline),
		RefundDeadline:    toInt64(s.RefundDeadline),
		DisputeReason:     s.DisputeReason,
		DisputeRequester:  s.DisputeRequester,
		DisputedAt:        toInt64(s.DisputedAt),
		RefundReason:      s.RefundReason,
		RefundRequester:   s.RefundRequester,
		RefundRequestedAt: toInt64(s.RefundRequestedAt),
		ProposalStatus:    settlement.ProposalStatus(s.ProposalStatus),
		ProposedAt:        toInt64(s.ProposedAt),
		ResponseWindow:    toInt64(s.ResponseWindow),
		MilestoneCount:    s.MilestoneCount,
	}
	return settlement.Sanitize(record)
}

type storedMilestone struct {
	Index       uint32
	Description string
	Amount      *big.Int
	Status      uint8
	CompletedAt *big.Int
	ApprovedAt  *big.Int
}

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func toInt64(v *big.Int) int64 {
	if v == nil {
		return 0
	}
	return v.Int64()
}

// SettlementPut persists a sanitized copy of the record.
func (m *Manager) SettlementPut(r *settlement.Record) error {
	sanitized, err := settlement.Sanitize(r)
	if err != nil {
		return err
	}
	return m.writeRLP(settlementKey(sanitized.ID), newStoredRecord(sanitized))
}

// SettlementGet loads a record by identifier.
func (m *Manager) SettlementGet(id uint64) (*settlement.Record, bool, error) {
	var stored storedRecord
	ok, err := m.loadRLP(settlementKey(id), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	record, err := stored.toRecord()
	if err != nil {
		return nil, false, err
	}
	return record, true, nil
}

// SettlementNextID increments and returns the record sequence. Identifiers
// start at 1; 0 is never a valid record id.
func (m *Manager) SettlementNextID() (uint64, error) {
	key := settlementSeq()
	current, err := m.loadBigInt(key)
	if err != nil {
		return 0, err
	}
	if current.Sign() < 0 || current.BitLen() > 63 {
		return 0, fmt.Errorf("state: settlement sequence out of range")
	}
	next := current.Uint64() + 1
	if err := m.writeBigInt(key, new(big.Int).SetUint64(next)); err != nil {
		return 0, err
	}
	return next, nil
}

// SettlementIndex appends the record id to the party's index. Appending an
// id that is already present is a no-op.
func (m *Manager) SettlementIndex(party [20]byte, id uint64) error {
	key := partyIndexKey(party)
	var ids []uint64
	if _, err := m.loadRLP(key, &ids); err != nil {
		return err
	}
	for _, existing := range ids {
		if existing == id {
			return nil
		}
	}
	ids = append(ids, id)
	return m.writeRLP(key, ids)
}

// SettlementsByParty returns one page of record ids bound to the party,
// newest last. Offset past the end yields an empty page; limit is clamped
// to ListLimit.
func (m *Manager) SettlementsByParty(party [20]byte, offset, limit int) ([]uint64, error) {
	var ids []uint64
	if _, err := m.loadRLP(partyIndexKey(party), &ids); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > ListLimit {
		limit = ListLimit
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(ids) {
		return []uint64{}, nil
	}
	end := offset + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := make([]uint64, end-offset)
	copy(page, ids[offset:end])
	return page, nil
}

// MilestonePut persists one milestone of a record.
func (m *Manager) MilestonePut(recordID uint64, ms *settlement.Milestone) error {
	if ms == nil {
		return fmt.Errorf("state: nil milestone")
	}
	stored := &storedMilestone{
		Index:       ms.Index,
		Description: ms.Description,
		Amount:      cloneOrZero(ms.Amount),
		Status:      uint8(ms.Status),
		CompletedAt: big.NewInt(ms.CompletedAt),
		ApprovedAt:  big.NewInt(ms.ApprovedAt),
	}
	return m.writeRLP(milestoneKey(recordID, ms.Index), stored)
}

// MilestoneGet loads one milestone of a record.
func (m *Manager) MilestoneGet(recordID uint64, index uint32) (*settlement.Milestone, bool, error) {
	var stored storedMilestone
	ok, err := m.loadRLP(milestoneKey(recordID, index), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return &settlement.Milestone{
		Index:       stored.Index,
		Description: stored.Description,
		Amount:      cloneOrZero(stored.Amount),
		Status:      settlement.MilestoneStatus(stored.Status),
		CompletedAt: toInt64(stored.CompletedAt),
		ApprovedAt:  toInt64(stored.ApprovedAt),
	}, true, nil
}

// Milestones loads every milestone of a record in index order.
func (m *Manager) Milestones(recordID uint64, count uint32) ([]*settlement.Milestone, error) {
	out := make([]*settlement.Milestone, 0, count)
	for index := uint32(0); index < count; index++ {
		ms, ok, err := m.MilestoneGet(recordID, index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: record %d index %d", settlement.ErrMilestoneNotFound, recordID, index)
		}
		out = append(out, ms)
	}
	return out, nil
}
