package settlement

import "errors"

// Error taxonomy for the settlement engine. Every precondition violation is
// reported to the caller as one of these sentinels (usually wrapped with
// call-site context) before any state is mutated.
var (
	// Authorization.
	ErrUnauthorized    = errors.New("settlement: unauthorized caller")
	ErrBuyerOnly       = errors.New("settlement: buyer only")
	ErrSellerOnly      = errors.New("settlement: seller only")
	ErrArbitratorOnly  = errors.New("settlement: arbitrator only")
	ErrAdminOnly       = errors.New("settlement: admin only")
	ErrParticipantOnly = errors.New("settlement: participant only")

	// Not found.
	ErrNotFound          = errors.New("settlement: record not found")
	ErrMilestoneNotFound = errors.New("settlement: milestone not found")

	// Invalid input.
	ErrInvalidAmount        = errors.New("settlement: amount must be positive")
	ErrInvalidInput         = errors.New("settlement: invalid input")
	ErrDeadlineInPast       = errors.New("settlement: deadline in the past")
	ErrInvalidCondition     = errors.New("settlement: invalid condition")
	ErrTotalMismatch        = errors.New("settlement: milestone amounts do not sum to total")
	ErrInvalidMilestoneData = errors.New("settlement: invalid milestone data")

	// Wrong state.
	ErrWrongStatus      = errors.New("settlement: operation not allowed in current status")
	ErrAlreadyFunded    = errors.New("settlement: record already funded")
	ErrAlreadyApproved  = errors.New("settlement: party already approved")
	ErrAlreadyDisputed  = errors.New("settlement: dispute already open")
	ErrNotDisputed      = errors.New("settlement: record not disputed")
	ErrAlreadyRequested = errors.New("settlement: refund already requested")

	// Condition unmet.
	ErrConditionNotMet    = errors.New("settlement: release condition not met")
	ErrNotEnoughApprovals = errors.New("settlement: not enough approvals")

	// Time-boxed proposal.
	ErrExpired = errors.New("settlement: proposal expired")

	// Timelock vault.
	ErrLocked           = errors.New("settlement: deposit still locked")
	ErrDuplicateDeposit = errors.New("settlement: live deposit already exists")

	// Ledger.
	ErrInsufficientBalance = errors.New("settlement: insufficient balance")
)
