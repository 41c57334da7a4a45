package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"custodia/core/events"
	"custodia/core/types"
)

var (
	errNilState = errors.New("settlement engine: state not configured")
)

// engineState is the narrow persistence surface the engine consumes. The
// state manager implements it against the key-value store; tests provide an
// in-memory mock.
type engineState interface {
	SettlementPut(*Record) error
	SettlementGet(id uint64) (*Record, bool, error)
	SettlementNextID() (uint64, error)
	SettlementIndex(party [20]byte, id uint64) error
	MilestonePut(recordID uint64, m *Milestone) error
	MilestoneGet(recordID uint64, index uint32) (*Milestone, bool, error)
	VaultAddress(asset string) ([20]byte, error)
	Transfer(asset string, from, to [20]byte, amount *big.Int) error
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// DefaultResponseWindow is applied to mutual-cancellation proposals when the
// node configuration does not override it.
const DefaultResponseWindow int64 = 7 * 24 * 60 * 60

// Engine owns the settlement record lifecycle: creation, status transitions
// and field mutation. Custody changes and status changes always happen in
// the same call; the host wraps each call in a storage transaction so a
// failure leaves the record store untouched.
type Engine struct {
	state          engineState
	emitter        events.Emitter
	admin          [20]byte
	responseWindow int64
	nowFn          func() int64
}

// NewEngine creates a settlement engine with a no-op emitter. Callers can
// override the emitter via SetEmitter.
func NewEngine() *Engine {
	return &Engine{
		emitter:        events.NoopEmitter{},
		responseWindow: DefaultResponseWindow,
		nowFn:          func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetAdmin configures the admin/oracle identity. The value is injected at
// construction from node configuration; there is no process-wide singleton.
func (e *Engine) SetAdmin(addr [20]byte) { e.admin = addr }

// SetResponseWindow overrides the window during which a cancellation
// proposal remains acceptable by the counterparty.
func (e *Engine) SetResponseWindow(seconds int64) {
	if seconds <= 0 {
		e.responseWindow = DefaultResponseWindow
		return
	}
	e.responseWindow = seconds
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) loadRecord(id uint64) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, ok, err := e.state.SettlementGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return record, nil
}

func (e *Engine) storeRecord(r *Record) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := r.CheckCustody(); err != nil {
		return err
	}
	return e.state.SettlementPut(r)
}

// CreateParams bundles the inputs for Create.
type CreateParams struct {
	Buyer            [20]byte
	Seller           [20]byte
	Arbitrator       [20]byte // optional, zero when unbound
	Asset            string
	Amount           *big.Int
	Condition        Condition
	DeliveryDeadline int64
	RefundDeadline   int64
	Milestones       []MilestoneData // required iff Condition.Kind == CondMilestones
}

// Create validates and persists a new settlement record in status Created,
// assigns the next sequential identifier and indexes the record under every
// bound party.
func (e *Engine) Create(p CreateParams) (*Record, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	asset, err := NormalizeAsset(p.Asset)
	if err != nil {
		return nil, err
	}
	amount := cloneBigInt(p.Amount)
	if amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if p.Buyer == ([20]byte{}) || p.Seller == ([20]byte{}) {
		return nil, fmt.Errorf("%w: buyer and seller required", ErrInvalidInput)
	}
	if p.Buyer == p.Seller {
		return nil, fmt.Errorf("%w: buyer and seller must differ", ErrInvalidInput)
	}
	if p.Arbitrator != ([20]byte{}) && (p.Arbitrator == p.Buyer || p.Arbitrator == p.Seller) {
		return nil, fmt.Errorf("%w: arbitrator must be distinct", ErrInvalidInput)
	}
	now := e.now()
	if p.DeliveryDeadline != 0 && p.DeliveryDeadline <= now {
		return nil, fmt.Errorf("%w: delivery deadline", ErrDeadlineInPast)
	}
	if p.RefundDeadline != 0 && p.RefundDeadline <= now {
		return nil, fmt.Errorf("%w: refund deadline", ErrDeadlineInPast)
	}
	cond := p.Condition.Clone()
	cond.Approvals = nil
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	if cond.Kind == CondTime && cond.ReleaseAfter <= now {
		return nil, fmt.Errorf("%w: release threshold", ErrDeadlineInPast)
	}
	if cond.Kind == CondThreshold {
		eligible := uint32(2)
		if p.Arbitrator != ([20]byte{}) {
			eligible = 3
		}
		if cond.Required > eligible {
			return nil, fmt.Errorf("%w: required %d exceeds eligible set %d", ErrInvalidCondition, cond.Required, eligible)
		}
	}
	var milestones []*Milestone
	if cond.Kind == CondMilestones {
		milestones, err = buildMilestones(p.Milestones, amount)
		if err != nil {
			return nil, err
		}
	} else if len(p.Milestones) > 0 {
		return nil, fmt.Errorf("%w: milestones only valid for milestone condition", ErrInvalidInput)
	}

	id, err := e.state.SettlementNextID()
	if err != nil {
		return nil, err
	}
	record := &Record{
		ID:               id,
		Buyer:            p.Buyer,
		Seller:           p.Seller,
		Arbitrator:       p.Arbitrator,
		Asset:            asset,
		Amount:           amount,
		Escrowed:         big.NewInt(0),
		Released:         big.NewInt(0),
		Refunded:         big.NewInt(0),
		Status:           StatusCreated,
		Condition:        cond,
		CreatedAt:        now,
		DeliveryDeadline: p.DeliveryDeadline,
		RefundDeadline:   p.RefundDeadline,
		ResponseWindow:   e.responseWindow,
		MilestoneCount:   uint32(len(milestones)),
	}
	if err := e.storeRecord(record); err != nil {
		return nil, err
	}
	for _, m := range milestones {
		if err := e.state.MilestonePut(id, m); err != nil {
			return nil, err
		}
	}
	if err := e.state.SettlementIndex(p.Buyer, id); err != nil {
		return nil, err
	}
	if err := e.state.SettlementIndex(p.Seller, id); err != nil {
		return nil, err
	}
	if p.Arbitrator != ([20]byte{}) {
		if err := e.state.SettlementIndex(p.Arbitrator, id); err != nil {
			return nil, err
		}
	}
	e.emit(NewCreatedEvent(record))
	return record.Clone(), nil
}

// Fund moves the full amount from the buyer to the vault and marks the
// record as funded. The transfer and the status write are one unit: the
// host transaction discards the status change when the transfer fails.
func (e *Engine) Fund(id uint64, payer [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Status != StatusCreated {
		if record.Status == StatusFunded {
			return ErrAlreadyFunded
		}
		return fmt.Errorf("%w: cannot fund in status %s", ErrWrongStatus, record.Status)
	}
	if payer != record.Buyer {
		return fmt.Errorf("%w: fund", ErrBuyerOnly)
	}
	vault, err := e.state.VaultAddress(record.Asset)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(record.Asset, payer, vault, record.Amount); err != nil {
		return err
	}
	record.Escrowed = cloneBigInt(record.Amount)
	record.Status = StatusFunded
	record.FundedAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewFundedEvent(record))
	return nil
}

// MarkDelivered lets the seller flag delivery before the delivery deadline.
func (e *Engine) MarkDelivered(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != record.Seller {
		return fmt.Errorf("%w: mark delivered", ErrSellerOnly)
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot mark delivered in status %s", ErrWrongStatus, record.Status)
	}
	now := e.now()
	if record.DeliveryDeadline != 0 && now > record.DeliveryDeadline {
		return fmt.Errorf("%w: delivery deadline passed", ErrExpired)
	}
	record.Status = StatusDelivered
	record.DeliveredAt = now
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewDeliveredEvent(record))
	return nil
}

// ConfirmDelivery lets the buyer accept a delivery, releasing the full
// escrowed amount to the seller.
func (e *Engine) ConfirmDelivery(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != record.Buyer {
		return fmt.Errorf("%w: confirm delivery", ErrBuyerOnly)
	}
	if record.Status != StatusDelivered {
		return fmt.Errorf("%w: delivery not marked", ErrWrongStatus)
	}
	return e.releaseEscrow(record)
}

// VerifyCondition evaluates the record's release condition for the caller
// and, when it holds, releases the full escrowed amount to the seller. An
// unmet condition is a typed failure, never a silent no-op.
func (e *Engine) VerifyCondition(id uint64, caller [20]byte, oracleInput *bool) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot verify in status %s", ErrWrongStatus, record.Status)
	}
	ok, err := e.evaluate(record, caller, oracleInput)
	if err != nil {
		return err
	}
	if !ok {
		return ErrConditionNotMet
	}
	return e.releaseEscrow(record)
}

// Approve records a threshold approval for the party. Each eligible party
// may approve at most once; approving never releases funds by itself.
func (e *Engine) Approve(id uint64, party [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Condition.Kind != CondThreshold {
		return fmt.Errorf("%w: record has no threshold condition", ErrInvalidCondition)
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot approve in status %s", ErrWrongStatus, record.Status)
	}
	eligible := false
	for _, p := range eligibleApprovers(record) {
		if p == party {
			eligible = true
			break
		}
	}
	if !eligible {
		return fmt.Errorf("%w: approve", ErrUnauthorized)
	}
	if record.Condition.HasApproved(party) {
		return ErrAlreadyApproved
	}
	record.Condition.Approvals = append(record.Condition.Approvals, party)
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewApprovedEvent(record, party))
	return nil
}

// Cancel aborts a record that has made no irrevocable progress, refunding
// any escrowed amount to the buyer.
func (e *Engine) Cancel(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if !record.IsParticipant(caller) {
		return fmt.Errorf("%w: cancel", ErrParticipantOnly)
	}
	if record.Status != StatusCreated && record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot cancel in status %s", ErrWrongStatus, record.Status)
	}
	if record.Escrowed.Sign() > 0 {
		vault, err := e.state.VaultAddress(record.Asset)
		if err != nil {
			return err
		}
		if err := e.state.Transfer(record.Asset, vault, record.Buyer, record.Escrowed); err != nil {
			return err
		}
		record.Refunded = new(big.Int).Add(record.Refunded, record.Escrowed)
		record.Escrowed = big.NewInt(0)
	}
	record.Status = StatusCancelled
	record.CancelledAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewCancelledEvent(record))
	return nil
}

// RequestRefund opens a refund request on a funded or delivered record.
// Only a participant may request, before the refund deadline, and only one
// request may be open at a time.
func (e *Engine) RequestRefund(id uint64, requester [20]byte, reason string) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if !record.IsParticipant(requester) {
		return fmt.Errorf("%w: request refund", ErrParticipantOnly)
	}
	if record.Status != StatusFunded && record.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot request refund in status %s", ErrWrongStatus, record.Status)
	}
	if record.RefundRequester != ([20]byte{}) {
		return ErrAlreadyRequested
	}
	now := e.now()
	if record.RefundDeadline != 0 && now > record.RefundDeadline {
		return fmt.Errorf("%w: refund deadline passed", ErrExpired)
	}
	record.RefundRequester = requester
	record.RefundReason = strings.TrimSpace(reason)
	record.RefundRequestedAt = now
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewRefundRequestedEvent(record))
	return nil
}

// ProcessRefund pays the escrowed amount back to the buyer when either the
// delivery deadline elapsed without delivery or the buyer holds an open
// refund request. Anyone may trigger the transition.
func (e *Engine) ProcessRefund(id uint64) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot refund in status %s", ErrWrongStatus, record.Status)
	}
	deadlinePassed := record.DeliveryDeadline != 0 && e.now() > record.DeliveryDeadline
	buyerRequested := record.RefundRequester == record.Buyer && record.RefundRequester != ([20]byte{})
	if !deadlinePassed && !buyerRequested {
		return fmt.Errorf("%w: refund conditions", ErrConditionNotMet)
	}
	return e.refundEscrow(record)
}

// ResolveRefund lets the admin decide a refund request raised by either
// side: approve pays the buyer, deny clears the request.
func (e *Engine) ResolveRefund(id uint64, caller [20]byte, approve bool) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if caller != e.admin || e.admin == ([20]byte{}) {
		return fmt.Errorf("%w: resolve refund", ErrAdminOnly)
	}
	if record.RefundRequester == ([20]byte{}) {
		return fmt.Errorf("%w: no refund request open", ErrWrongStatus)
	}
	if record.Status != StatusFunded && record.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot resolve refund in status %s", ErrWrongStatus, record.Status)
	}
	if !approve {
		record.RefundRequester = [20]byte{}
		record.RefundReason = ""
		record.RefundRequestedAt = 0
		if err := e.storeRecord(record); err != nil {
			return err
		}
		e.emit(NewRefundDeniedEvent(record))
		return nil
	}
	return e.refundEscrow(record)
}

// Dispute flags a funded or delivered record as disputed, recording the
// reason and requester. Only a participant may raise a dispute and only one
// may be open.
func (e *Engine) Dispute(id uint64, caller [20]byte, reason string) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Status == StatusDisputed {
		return ErrAlreadyDisputed
	}
	if record.Status != StatusFunded && record.Status != StatusDelivered {
		return fmt.Errorf("%w: cannot dispute in status %s", ErrWrongStatus, record.Status)
	}
	if !record.IsParticipant(caller) {
		return fmt.Errorf("%w: dispute", ErrParticipantOnly)
	}
	record.Status = StatusDisputed
	record.DisputeReason = strings.TrimSpace(reason)
	record.DisputeRequester = caller
	record.DisputedAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewDisputedEvent(record))
	return nil
}

// Resolve settles a disputed record with one of exactly two outcomes:
// release the full remaining escrow to the seller or refund it to the
// buyer. Records with a bound arbitrator are resolved only by that
// arbitrator; otherwise the admin decides. Arbitration is final.
func (e *Engine) Resolve(id uint64, caller [20]byte, releaseToSeller bool) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.Status != StatusDisputed {
		return fmt.Errorf("%w: status %s", ErrNotDisputed, record.Status)
	}
	if record.HasArbitrator() {
		if caller != record.Arbitrator {
			return fmt.Errorf("%w: resolve", ErrArbitratorOnly)
		}
	} else if caller != e.admin || e.admin == ([20]byte{}) {
		return fmt.Errorf("%w: resolve", ErrAdminOnly)
	}
	if releaseToSeller {
		if err := e.releaseEscrow(record); err != nil {
			return err
		}
	} else {
		if err := e.refundEscrow(record); err != nil {
			return err
		}
	}
	e.emit(NewResolvedEvent(record, releaseToSeller))
	return nil
}

// releaseEscrow moves the remaining escrow to the seller and drives the
// record to Completed.
func (e *Engine) releaseEscrow(record *Record) error {
	vault, err := e.state.VaultAddress(record.Asset)
	if err != nil {
		return err
	}
	amount := cloneBigInt(record.Escrowed)
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: nothing escrowed", ErrWrongStatus)
	}
	if err := e.state.Transfer(record.Asset, vault, record.Seller, amount); err != nil {
		return err
	}
	record.Released = new(big.Int).Add(record.Released, amount)
	record.Escrowed = big.NewInt(0)
	record.Status = StatusCompleted
	record.CompletedAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewReleasedEvent(record, amount))
	return nil
}

// refundEscrow moves the remaining escrow back to the buyer and drives the
// record to Refunded.
func (e *Engine) refundEscrow(record *Record) error {
	vault, err := e.state.VaultAddress(record.Asset)
	if err != nil {
		return err
	}
	amount := cloneBigInt(record.Escrowed)
	if amount.Sign() <= 0 {
		return fmt.Errorf("%w: nothing escrowed", ErrWrongStatus)
	}
	if err := e.state.Transfer(record.Asset, vault, record.Buyer, amount); err != nil {
		return err
	}
	record.Refunded = new(big.Int).Add(record.Refunded, amount)
	record.Escrowed = big.NewInt(0)
	record.Status = StatusRefunded
	record.CompletedAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewRefundedEvent(record, amount))
	return nil
}
