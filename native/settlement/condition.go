package settlement

import "fmt"

// ConditionKind enumerates the closed set of release conditions. Unknown
// kinds are rejected at creation time, never deep in execution.
type ConditionKind uint8

const (
	CondUnspecified ConditionKind = iota
	// CondTime releases once the ledger clock reaches the configured
	// threshold. No caller input is needed.
	CondTime
	// CondCounterparty releases on a single-shot approval by the buyer.
	CondCounterparty
	// CondOracle releases on an affirmative attestation supplied by the
	// admin/oracle role.
	CondOracle
	// CondThreshold releases once the approval count reaches the required
	// n-of-m threshold over the eligible party set fixed at creation.
	CondThreshold
	// CondMilestones releases per milestone through the milestone
	// operations rather than VerifyCondition.
	CondMilestones
)

// String returns the canonical lowercase name used in events and RPC.
func (k ConditionKind) String() string {
	switch k {
	case CondTime:
		return "time"
	case CondCounterparty:
		return "counterparty"
	case CondOracle:
		return "oracle"
	case CondThreshold:
		return "threshold"
	case CondMilestones:
		return "milestones"
	default:
		return fmt.Sprintf("condition(%d)", uint8(k))
	}
}

// ParseConditionKind maps the wire name back to a kind.
func ParseConditionKind(name string) (ConditionKind, error) {
	switch name {
	case "time":
		return CondTime, nil
	case "counterparty":
		return CondCounterparty, nil
	case "oracle":
		return CondOracle, nil
	case "threshold":
		return CondThreshold, nil
	case "milestones":
		return CondMilestones, nil
	default:
		return CondUnspecified, fmt.Errorf("%w: unknown kind %q", ErrInvalidCondition, name)
	}
}

// Condition is the stored release rule: a tagged union over the supported
// kinds. Only the fields relevant to the kind are populated.
type Condition struct {
	Kind ConditionKind

	// ReleaseAfter is the time threshold for CondTime.
	ReleaseAfter int64

	// Required and Approvals carry the n-of-m state for CondThreshold.
	// Approvals holds the parties that have approved so far, one entry
	// per party.
	Required  uint32
	Approvals [][20]byte
}

// Clone returns a deep copy of the condition.
func (c Condition) Clone() Condition {
	clone := c
	if len(c.Approvals) > 0 {
		clone.Approvals = make([][20]byte, len(c.Approvals))
		copy(clone.Approvals, c.Approvals)
	}
	return clone
}

// Validate checks structural sanity independent of any record context.
func (c Condition) Validate() error {
	switch c.Kind {
	case CondTime:
		if c.ReleaseAfter <= 0 {
			return fmt.Errorf("%w: release threshold required", ErrInvalidCondition)
		}
	case CondCounterparty, CondOracle, CondMilestones:
		// No parameters.
	case CondThreshold:
		if c.Required == 0 {
			return fmt.Errorf("%w: required approvals must be positive", ErrInvalidCondition)
		}
	default:
		return fmt.Errorf("%w: kind %d", ErrInvalidCondition, c.Kind)
	}
	return nil
}

// HasApproved reports whether the party already holds an approval flag.
func (c Condition) HasApproved(party [20]byte) bool {
	for _, approved := range c.Approvals {
		if approved == party {
			return true
		}
	}
	return false
}

// ApprovedCount returns the number of distinct approvals recorded.
func (c Condition) ApprovedCount() uint32 {
	return uint32(len(c.Approvals))
}

// eligibleApprovers returns the fixed approval set for a threshold record:
// buyer, seller and the arbitrator when one is bound.
func eligibleApprovers(r *Record) [][20]byte {
	parties := [][20]byte{r.Buyer, r.Seller}
	if r.HasArbitrator() {
		parties = append(parties, r.Arbitrator)
	}
	return parties
}

// evaluate decides whether release is authorized now for the record. It
// never mutates state; approval flags are set separately via Approve. The
// bool result is only meaningful when err is nil.
func (e *Engine) evaluate(r *Record, caller [20]byte, oracleInput *bool) (bool, error) {
	switch r.Condition.Kind {
	case CondTime:
		return e.now() >= r.Condition.ReleaseAfter, nil
	case CondCounterparty:
		return caller == r.Buyer, nil
	case CondOracle:
		if caller != e.admin {
			return false, fmt.Errorf("%w: oracle attestation requires admin", ErrUnauthorized)
		}
		return oracleInput != nil && *oracleInput, nil
	case CondThreshold:
		if r.Condition.ApprovedCount() < r.Condition.Required {
			return false, fmt.Errorf("%w: %d of %d", ErrNotEnoughApprovals, r.Condition.ApprovedCount(), r.Condition.Required)
		}
		return true, nil
	case CondMilestones:
		return false, fmt.Errorf("%w: milestone records release per milestone", ErrInvalidCondition)
	default:
		return false, fmt.Errorf("%w: kind %d", ErrInvalidCondition, r.Condition.Kind)
	}
}
