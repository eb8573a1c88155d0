package policy

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrTwoFactorRequired = errors.New("two-factor authentication required")
	ErrScopeMissing      = errors.New("api key scope missing")
	ErrAccountInactive   = errors.New("account not active")
	ErrUnknownKind       = errors.New("unknown requirement kind")
)

// Kind tags a Requirement variant.
type Kind uint8

const (
	KindTwoFactor Kind = iota + 1
	KindAPIKeyScope
	KindAccountActive
)

func (k Kind) String() string {
	switch k {
	case KindTwoFactor:
		return "two_factor"
	case KindAPIKeyScope:
		return "api_key_scope"
	case KindAccountActive:
		return "account_active"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Requirement is one condition a Subject must meet. Scopes is only read for
// KindAPIKeyScope.
type Requirement struct {
	Kind   Kind
	Scopes []string
}

func TwoFactor() Requirement {
	return Requirement{Kind: KindTwoFactor}
}

// APIKeyScope requires every listed scope.
func APIKeyScope(scopes ...string) Requirement {
	return Requirement{Kind: KindAPIKeyScope, Scopes: scopes}
}

func AccountActive() Requirement {
	return Requirement{Kind: KindAccountActive}
}

// Subject is what requirements are evaluated against. The engine fills it
// from token claims, the API key and lockout state.
type Subject struct {
	ID string
	// TwoFactor is true when the presented token proves a second factor.
	TwoFactor bool
	// Active is false for disabled or deleted accounts.
	Active bool
	Locked bool
	// Scopes are the scopes of the API key that authenticated the request.
	Scopes []string
}

// Check evaluates a single requirement.
func Check(req Requirement, s Subject) error {
	switch req.Kind {
	case KindTwoFactor:
		if !s.TwoFactor {
			return ErrTwoFactorRequired
		}
	case KindAPIKeyScope:
		var missing []string
		for _, scope := range req.Scopes {
			if !slices.Contains(s.Scopes, scope) {
				missing = append(missing, scope)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrScopeMissing, strings.Join(missing, ","))
		}
	case KindAccountActive:
		if !s.Active || s.Locked {
			return ErrAccountInactive
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, req.Kind)
	}
	return nil
}

// Evaluator ANDs a fixed list of requirements.
type Evaluator struct {
	reqs []Requirement
}

func NewEvaluator(reqs ...Requirement) *Evaluator {
	return &Evaluator{reqs: slices.Clone(reqs)}
}

// Evaluate returns nil when s meets every requirement, otherwise every
// failure joined.
func (e *Evaluator) Evaluate(s Subject) error {
	var errs []error
	for _, req := range e.reqs {
		if err := Check(req, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *Evaluator) Requirements() []Requirement {
	return slices.Clone(e.reqs)
}
