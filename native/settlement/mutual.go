package settlement

import (
	"fmt"
	"math/big"
)

// proposalExpired reports whether an open proposal has lapsed. The window
// boundary itself is still acceptable: expiry requires now to be strictly
// past proposedAt + window.
func (e *Engine) proposalExpired(r *Record) bool {
	if r.ProposalStatus != ProposalByBuyer && r.ProposalStatus != ProposalBySeller {
		return false
	}
	window := r.ResponseWindow
	if window <= 0 {
		window = e.responseWindow
	}
	return e.now() > r.ProposedAt+window
}

// resetProposal clears an open proposal back to none. Called lazily from
// the next mutating operation once the window has lapsed; reads never
// mutate stored proposal state.
func (r *Record) resetProposal() {
	r.ProposalStatus = ProposalNone
	r.ProposedAt = 0
}

// ProposeCancellation opens a mutual-cancellation proposal on a funded
// record. Either participant may propose; an expired prior proposal is
// reset in the same write, a live one blocks the new proposal.
func (e *Engine) ProposeCancellation(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if !record.IsParticipant(caller) {
		return fmt.Errorf("%w: propose cancellation", ErrParticipantOnly)
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot propose cancellation in status %s", ErrWrongStatus, record.Status)
	}
	if e.proposalExpired(record) {
		record.resetProposal()
	}
	if record.ProposalStatus == ProposalByBuyer || record.ProposalStatus == ProposalBySeller {
		return fmt.Errorf("%w: cancellation already proposed", ErrAlreadyRequested)
	}
	if caller == record.Buyer {
		record.ProposalStatus = ProposalByBuyer
	} else {
		record.ProposalStatus = ProposalBySeller
	}
	record.ProposedAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewCancellationProposedEvent(record, caller))
	return nil
}

// AgreeCancellation lets the counterparty accept a live proposal, refunding
// the escrow to the buyer and cancelling the record. Authorization is
// checked before expiry. Agreement at exactly the window boundary succeeds.
func (e *Engine) AgreeCancellation(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if !record.IsParticipant(caller) {
		return fmt.Errorf("%w: agree cancellation", ErrParticipantOnly)
	}
	if record.Status != StatusFunded {
		return fmt.Errorf("%w: cannot agree cancellation in status %s", ErrWrongStatus, record.Status)
	}
	var counterparty [20]byte
	switch record.ProposalStatus {
	case ProposalByBuyer:
		counterparty = record.Seller
	case ProposalBySeller:
		counterparty = record.Buyer
	default:
		return fmt.Errorf("%w: no cancellation proposed", ErrWrongStatus)
	}
	if caller != counterparty {
		return fmt.Errorf("%w: proposer cannot agree to own proposal", ErrUnauthorized)
	}
	if e.proposalExpired(record) {
		record.resetProposal()
		if err := e.storeRecord(record); err != nil {
			return err
		}
		return ErrExpired
	}
	record.ProposalStatus = ProposalCompleted
	vault, err := e.state.VaultAddress(record.Asset)
	if err != nil {
		return err
	}
	if err := e.state.Transfer(record.Asset, vault, record.Buyer, record.Escrowed); err != nil {
		return err
	}
	record.Refunded = new(big.Int).Add(record.Refunded, record.Escrowed)
	record.Escrowed = big.NewInt(0)
	record.Status = StatusCancelled
	record.CancelledAt = e.now()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewCancellationAgreedEvent(record, caller))
	return nil
}

// WithdrawProposal lets the proposer retract a still-open proposal.
func (e *Engine) WithdrawProposal(id uint64, caller [20]byte) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	var proposer [20]byte
	switch record.ProposalStatus {
	case ProposalByBuyer:
		proposer = record.Buyer
	case ProposalBySeller:
		proposer = record.Seller
	default:
		return fmt.Errorf("%w: no cancellation proposed", ErrWrongStatus)
	}
	if caller != proposer {
		return fmt.Errorf("%w: only the proposer may withdraw", ErrUnauthorized)
	}
	record.resetProposal()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewProposalWithdrawnEvent(record, caller))
	return nil
}

// ResetExpiredProposal clears a lapsed proposal without any other effect.
// Anyone may call it; a live proposal is left untouched.
func (e *Engine) ResetExpiredProposal(id uint64) error {
	record, err := e.loadRecord(id)
	if err != nil {
		return err
	}
	if record.ProposalStatus != ProposalByBuyer && record.ProposalStatus != ProposalBySeller {
		return fmt.Errorf("%w: no cancellation proposed", ErrWrongStatus)
	}
	if !e.proposalExpired(record) {
		return fmt.Errorf("%w: proposal still within response window", ErrWrongStatus)
	}
	record.resetProposal()
	if err := e.storeRecord(record); err != nil {
		return err
	}
	e.emit(NewProposalResetEvent(record))
	return nil
}
