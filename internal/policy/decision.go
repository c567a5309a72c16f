package policy

import "github.com/smallbiznis/httpauth/internal/domain"

// Kind tags a Decision.
type Kind int

const (
	KindRejected Kind = iota
	KindAccepted
	KindFallThrough
)

func (k Kind) String() string {
	switch k {
	case KindAccepted:
		return "accepted"
	case KindFallThrough:
		return "fall_through"
	default:
		return "rejected"
	}
}

// Reason explains a rejection.
type Reason string

const (
	ReasonEmptyIdentity   Reason = "empty_identity"
	ReasonUnknownIdentity Reason = "unknown_identity"
)

// Decision is the outcome of one authentication attempt. Account is set only
// when Kind is KindAccepted; Reason is kept through escalation to FallThrough.
type Decision struct {
	Kind    Kind
	Account domain.Account
	Reason  Reason
	Created bool
}

func Accepted(account domain.Account, created bool) Decision {
	return Decision{Kind: KindAccepted, Account: account, Created: created}
}

func Rejected(reason Reason) Decision {
	return Decision{Kind: KindRejected, Reason: reason}
}

func FallThrough(reason Reason) Decision {
	return Decision{Kind: KindFallThrough, Reason: reason}
}
