package settlement

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"
)

// Status represents the lifecycle states of a settlement record.
type Status uint8

const (
	StatusCreated Status = iota
	StatusFunded
	StatusDelivered
	StatusDisputed
	StatusCompleted
	StatusCancelled
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusFunded, StatusDelivered, StatusDisputed,
		StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further custody-changing transition is
// possible from the status.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// String returns the canonical lowercase name used in events and RPC.
func (s Status) String() string {
	switch s {
	case StatusCreated:
		return "created"
	case StatusFunded:
		return "funded"
	case StatusDelivered:
		return "delivered"
	case StatusDisputed:
		return "disputed"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// ProposalStatus tracks the mutual-cancellation sub-machine nested inside a
// funded record.
type ProposalStatus uint8

const (
	ProposalNone ProposalStatus = iota
	ProposalByBuyer
	ProposalBySeller
	ProposalCompleted
)

// String returns the canonical lowercase name used in events and RPC.
func (p ProposalStatus) String() string {
	switch p {
	case ProposalNone:
		return "none"
	case ProposalByBuyer:
		return "proposed_by_buyer"
	case ProposalBySeller:
		return "proposed_by_seller"
	case ProposalCompleted:
		return "completed"
	default:
		return fmt.Sprintf("proposal(%d)", uint8(p))
	}
}

var assetPattern = regexp.MustCompile(`^[A-Z0-9]{2,16}$`)

// NormalizeAsset canonicalises an asset symbol to trimmed uppercase and
// rejects symbols outside the supported shape.
func NormalizeAsset(symbol string) (string, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(symbol))
	if !assetPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: unsupported asset symbol %q", ErrInvalidInput, symbol)
	}
	return trimmed, nil
}

// Record is the central custody entity. A record is created by the buyer,
// enters escrow when funded and is only ever driven to a terminal status,
// never deleted.
type Record struct {
	ID         uint64
	Buyer      [20]byte
	Seller     [20]byte
	Arbitrator [20]byte // zero means no arbitrator is bound
	Asset      string
	Amount     *big.Int
	Escrowed   *big.Int
	Released   *big.Int
	Refunded   *big.Int
	Status     Status
	Condition  Condition

	CreatedAt   int64
	FundedAt    int64
	DeliveredAt int64
	CompletedAt int64
	CancelledAt int64

	DeliveryDeadline int64
	RefundDeadline   int64

	DisputeReason    string
	DisputeRequester [20]byte
	DisputedAt       int64

	RefundReason      string
	RefundRequester   [20]byte
	RefundRequestedAt int64

	ProposalStatus ProposalStatus
	ProposedAt     int64
	ResponseWindow int64

	MilestoneCount uint32
}

// Clone returns a deep copy of the record so callers can safely mutate the
// copy without affecting the stored instance.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Amount = cloneBigInt(r.Amount)
	clone.Escrowed = cloneBigInt(r.Escrowed)
	clone.Released = cloneBigInt(r.Released)
	clone.Refunded = cloneBigInt(r.Refunded)
	clone.Condition = r.Condition.Clone()
	return &clone
}

// HasArbitrator reports whether an arbitrator identity is bound.
func (r *Record) HasArbitrator() bool {
	return r != nil && r.Arbitrator != ([20]byte{})
}

// IsParticipant reports whether the party is the record's buyer or seller.
func (r *Record) IsParticipant(party [20]byte) bool {
	return r != nil && (party == r.Buyer || party == r.Seller)
}

// Sanitize validates and normalises the supplied record, returning a cloned
// instance with a canonical asset symbol and non-nil amount fields. The
// original value is not mutated.
func Sanitize(r *Record) (*Record, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	clone := r.Clone()
	asset, err := NormalizeAsset(clone.Asset)
	if err != nil {
		return nil, err
	}
	clone.Asset = asset
	if clone.Amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if clone.Escrowed.Sign() < 0 || clone.Released.Sign() < 0 || clone.Refunded.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative custody totals", ErrInvalidInput)
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("%w: status %d", ErrInvalidInput, clone.Status)
	}
	if err := clone.Condition.Validate(); err != nil {
		return nil, err
	}
	clone.DisputeReason = strings.TrimSpace(clone.DisputeReason)
	clone.RefundReason = strings.TrimSpace(clone.RefundReason)
	return clone, nil
}

// CheckCustody verifies the custody conservation invariant for records that
// have been funded: escrowed + released + refunded must equal the total, and
// terminal records must hold no escrow.
func (r *Record) CheckCustody() error {
	if r == nil {
		return fmt.Errorf("%w: nil record", ErrInvalidInput)
	}
	if r.Status == StatusCreated {
		return nil
	}
	sum := new(big.Int).Add(cloneBigInt(r.Escrowed), cloneBigInt(r.Released))
	sum.Add(sum, cloneBigInt(r.Refunded))
	if sum.Cmp(cloneBigInt(r.Amount)) != 0 {
		return fmt.Errorf("%w: custody totals diverge from amount", ErrInvalidInput)
	}
	if r.Status.Terminal() && r.Escrowed.Sign() != 0 {
		return fmt.Errorf("%w: terminal record still holds escrow", ErrInvalidInput)
	}
	return nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
