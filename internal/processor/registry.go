package processor

import (
	"fmt"
	"sort"

	"github.com/segyhp/loan-servicing-engine/internal/domain"
	customError "github.com/segyhp/loan-servicing-engine/pkg/errors"
)

// Registry resolves the allocation strategy configured on a loan product.
type Registry struct {
	strategies  map[string]domain.TransactionProcessor
	defaultCode string
}

// NewRegistry registers the built-in strategies. defaultCode is used for
// products that do not name one.
func NewRegistry(defaultCode string) (*Registry, error) {
	r := &Registry{strategies: make(map[string]domain.TransactionProcessor)}
	r.Register(NewStrategy(PenaltiesFeesInterestPrincipal, []domain.Component{
		domain.ComponentPenalty, domain.ComponentFee, domain.ComponentInterest, domain.ComponentPrincipal,
	}, false))
	r.Register(NewStrategy(PrincipalInterestPenaltiesFees, []domain.Component{
		domain.ComponentPrincipal, domain.ComponentInterest, domain.ComponentPenalty, domain.ComponentFee,
	}, false))
	r.Register(NewStrategy(InterestPrincipalPenaltiesFees, []domain.Component{
		domain.ComponentInterest, domain.ComponentPrincipal, domain.ComponentPenalty, domain.ComponentFee,
	}, false))
	r.Register(NewStrategy(OverdueInterestPrincipalPenaltiesFees, []domain.Component{
		domain.ComponentInterest, domain.ComponentPrincipal, domain.ComponentPenalty, domain.ComponentFee,
	}, true))

	if defaultCode == "" {
		defaultCode = PenaltiesFeesInterestPrincipal
	}
	if _, ok := r.strategies[defaultCode]; !ok {
		return nil, fmt.Errorf("unknown default processing strategy %q", defaultCode)
	}
	r.defaultCode = defaultCode
	return r, nil
}

// Register adds or replaces a strategy under its code.
func (r *Registry) Register(p domain.TransactionProcessor) {
	r.strategies[p.Code()] = p
}

// Get returns the strategy for code, or the default when code is empty.
func (r *Registry) Get(code string) (domain.TransactionProcessor, error) {
	if code == "" {
		code = r.defaultCode
	}
	p, ok := r.strategies[code]
	if !ok {
		return nil, customError.WrapValidation("strategy_code", fmt.Sprintf("unknown processing strategy %q", code))
	}
	return p, nil
}

// Codes lists the registered strategy codes.
func (r *Registry) Codes() []string {
	codes := make([]string, 0, len(r.strategies))
	for code := range r.strategies {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
