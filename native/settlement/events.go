package settlement

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"custodia/core/types"
)

const (
	EventTypeCreated            = "settlement.created"
	EventTypeFunded             = "settlement.funded"
	EventTypeDelivered          = "settlement.delivered"
	EventTypeApproved           = "settlement.approved"
	EventTypeReleased           = "settlement.released"
	EventTypeRefunded           = "settlement.refunded"
	EventTypeCompleted          = "settlement.completed"
	EventTypeCancelled          = "settlement.cancelled"
	EventTypeDisputed           = "settlement.disputed"
	EventTypeResolved           = "settlement.resolved"
	EventTypeRefundRequested    = "settlement.refund_requested"
	EventTypeRefundDenied       = "settlement.refund_denied"
	EventTypeMilestoneCompleted = "settlement.milestone.completed"
	EventTypeMilestoneDisputed  = "settlement.milestone.disputed"
	EventTypeMilestoneSettled   = "settlement.milestone.settled"
	EventTypeCancellationOpened = "settlement.cancellation.proposed"
	EventTypeCancellationAgreed = "settlement.cancellation.agreed"
	EventTypeProposalWithdrawn  = "settlement.cancellation.withdrawn"
	EventTypeProposalReset      = "settlement.cancellation.reset"
	EventTypeTimelockLocked     = "timelock.locked"
	EventTypeTimelockSettled    = "timelock.settled"
)

// NewCreatedEvent returns the canonical payload for a newly created record.
func NewCreatedEvent(r *Record) *types.Event { return newRecordEvent(EventTypeCreated, r) }

// NewFundedEvent returns the canonical payload emitted when the buyer funds
// the record.
func NewFundedEvent(r *Record) *types.Event { return newRecordEvent(EventTypeFunded, r) }

// NewDeliveredEvent returns the canonical payload emitted when the seller
// marks delivery.
func NewDeliveredEvent(r *Record) *types.Event { return newRecordEvent(EventTypeDelivered, r) }

// NewCancelledEvent returns the canonical payload emitted when a record is
// cancelled.
func NewCancelledEvent(r *Record) *types.Event { return newRecordEvent(EventTypeCancelled, r) }

// NewDisputedEvent returns the canonical payload emitted when a dispute is
// opened.
func NewDisputedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeDisputed, r)
	if r != nil {
		evt.Attributes["requester"] = hex.EncodeToString(r.DisputeRequester[:])
		if r.DisputeReason != "" {
			evt.Attributes["reason"] = r.DisputeReason
		}
	}
	return evt
}

// NewResolvedEvent returns the canonical payload emitted when arbitration
// settles a dispute.
func NewResolvedEvent(r *Record, releaseToSeller bool) *types.Event {
	evt := newRecordEvent(EventTypeResolved, r)
	outcome := "refund_buyer"
	if releaseToSeller {
		outcome = "release_seller"
	}
	evt.Attributes["outcome"] = outcome
	return evt
}

// NewCompletedEvent returns the canonical payload emitted when the last
// milestone settles and the record completes.
func NewCompletedEvent(r *Record) *types.Event { return newRecordEvent(EventTypeCompleted, r) }

// NewApprovedEvent returns the payload emitted for a threshold approval.
func NewApprovedEvent(r *Record, party [20]byte) *types.Event {
	evt := newRecordEvent(EventTypeApproved, r)
	evt.Attributes["party"] = hex.EncodeToString(party[:])
	if r != nil {
		evt.Attributes["approvals"] = strconv.FormatUint(uint64(r.Condition.ApprovedCount()), 10)
		evt.Attributes["required"] = strconv.FormatUint(uint64(r.Condition.Required), 10)
	}
	return evt
}

// NewReleasedEvent returns the payload emitted when escrow pays out to the
// seller.
func NewReleasedEvent(r *Record, amount *big.Int) *types.Event {
	evt := newRecordEvent(EventTypeReleased, r)
	if amount != nil {
		evt.Attributes["released"] = amount.String()
	}
	return evt
}

// NewRefundedEvent returns the payload emitted when escrow pays back to the
// buyer.
func NewRefundedEvent(r *Record, amount *big.Int) *types.Event {
	evt := newRecordEvent(EventTypeRefunded, r)
	if amount != nil {
		evt.Attributes["refunded"] = amount.String()
	}
	return evt
}

// NewRefundRequestedEvent returns the payload emitted when a participant
// opens a refund request.
func NewRefundRequestedEvent(r *Record) *types.Event {
	evt := newRecordEvent(EventTypeRefundRequested, r)
	if r != nil {
		evt.Attributes["requester"] = hex.EncodeToString(r.RefundRequester[:])
		if r.RefundReason != "" {
			evt.Attributes["reason"] = r.RefundReason
		}
	}
	return evt
}

// NewRefundDeniedEvent returns the payload emitted when the admin denies an
// open refund request.
func NewRefundDeniedEvent(r *Record) *types.Event {
	return newRecordEvent(EventTypeRefundDenied, r)
}

// NewMilestoneCompletedEvent returns the payload emitted when the seller
// flags a milestone delivered.
func NewMilestoneCompletedEvent(r *Record, m *Milestone) *types.Event {
	return newMilestoneEvent(EventTypeMilestoneCompleted, r, m)
}

// NewMilestoneDisputedEvent returns the payload emitted when a milestone is
// contested.
func NewMilestoneDisputedEvent(r *Record, m *Milestone, requester [20]byte, reason string) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneDisputed, r, m)
	evt.Attributes["requester"] = hex.EncodeToString(requester[:])
	if strings.TrimSpace(reason) != "" {
		evt.Attributes["reason"] = strings.TrimSpace(reason)
	}
	return evt
}

// NewMilestoneSettledEvent returns the payload emitted when a milestone
// tranche leaves escrow.
func NewMilestoneSettledEvent(r *Record, m *Milestone, recipient [20]byte, amount *big.Int) *types.Event {
	evt := newMilestoneEvent(EventTypeMilestoneSettled, r, m)
	evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	if amount != nil {
		evt.Attributes["amount"] = amount.String()
	}
	return evt
}

// NewCancellationProposedEvent returns the payload emitted when a
// participant proposes mutual cancellation.
func NewCancellationProposedEvent(r *Record, proposer [20]byte) *types.Event {
	evt := newRecordEvent(EventTypeCancellationOpened, r)
	evt.Attributes["proposer"] = hex.EncodeToString(proposer[:])
	if r != nil {
		evt.Attributes["proposedAt"] = strconv.FormatInt(r.ProposedAt, 10)
		evt.Attributes["responseWindow"] = strconv.FormatInt(r.ResponseWindow, 10)
	}
	return evt
}

// NewCancellationAgreedEvent returns the payload emitted when the
// counterparty accepts a cancellation proposal.
func NewCancellationAgreedEvent(r *Record, agreedBy [20]byte) *types.Event {
	evt := newRecordEvent(EventTypeCancellationAgreed, r)
	evt.Attributes["agreedBy"] = hex.EncodeToString(agreedBy[:])
	return evt
}

// NewProposalWithdrawnEvent returns the payload emitted when the proposer
// retracts a proposal.
func NewProposalWithdrawnEvent(r *Record, proposer [20]byte) *types.Event {
	evt := newRecordEvent(EventTypeProposalWithdrawn, r)
	evt.Attributes["proposer"] = hex.EncodeToString(proposer[:])
	return evt
}

// NewProposalResetEvent returns the payload emitted when a lapsed proposal
// is cleared.
func NewProposalResetEvent(r *Record) *types.Event {
	return newRecordEvent(EventTypeProposalReset, r)
}

// NewDepositLockedEvent returns the payload emitted when a timelock deposit
// is locked.
func NewDepositLockedEvent(d *Deposit) *types.Event {
	return newDepositEvent(EventTypeTimelockLocked, d, "")
}

// NewDepositSettledEvent returns the payload emitted when a timelock
// deposit pays out, either by withdrawal or clawback.
func NewDepositSettledEvent(d *Deposit, recipient [20]byte, outcome string) *types.Event {
	evt := newDepositEvent(EventTypeTimelockSettled, d, outcome)
	evt.Attributes["recipient"] = hex.EncodeToString(recipient[:])
	return evt
}

func newRecordEvent(eventType string, r *Record) *types.Event {
	attrs := make(map[string]string)
	if r == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["id"] = strconv.FormatUint(r.ID, 10)
	attrs["buyer"] = hex.EncodeToString(r.Buyer[:])
	attrs["seller"] = hex.EncodeToString(r.Seller[:])
	attrs["asset"] = r.Asset
	attrs["amount"] = r.Amount.String()
	attrs["status"] = r.Status.String()
	attrs["condition"] = r.Condition.Kind.String()
	if r.HasArbitrator() {
		attrs["arbitrator"] = hex.EncodeToString(r.Arbitrator[:])
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}

func newMilestoneEvent(eventType string, r *Record, m *Milestone) *types.Event {
	evt := newRecordEvent(eventType, r)
	if m != nil {
		evt.Attributes["milestone"] = strconv.FormatUint(uint64(m.Index), 10)
		evt.Attributes["milestoneStatus"] = m.Status.String()
	}
	return evt
}

func newDepositEvent(eventType string, d *Deposit, outcome string) *types.Event {
	attrs := make(map[string]string)
	if d == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["depositor"] = hex.EncodeToString(d.Depositor[:])
	attrs["withdrawer"] = hex.EncodeToString(d.Withdrawer[:])
	attrs["asset"] = d.Asset
	attrs["amount"] = d.Amount.String()
	attrs["unlocksAt"] = strconv.FormatInt(d.UnlocksAt, 10)
	if outcome != "" {
		attrs["outcome"] = outcome
	}
	return &types.Event{Type: eventType, Attributes: attrs}
}
