// Package agents provides the saver agent data model: traits, properties,
// bounded match memory and the update rules that adapt the saver trait.
package agents

import (
	"errors"
	"fmt"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// ErrInvalidTraits is returned when trait parameters are out of range.
var ErrInvalidTraits = errors.New("invalid traits")

// Traits are the immutable behavioural parameters of an agent.
type Traits struct {
	Group             *int     `json:"group,omitempty"`     // Optional cluster label (e.g. SBM block)
	MinSpecialization float64  `json:"min_specialization"`  // 0.0–1.0
	IncomePerPeriod   float64  `json:"income_per_period"`   // > 0
	Homophily         *float64 `json:"homophily,omitempty"` // 0.0–1.0, nil = uniform neighbour choice
}

// NewTraits validates and returns a trait record.
func NewTraits(group *int, minSpecialization, incomePerPeriod float64, homophily *float64) (Traits, error) {
	if minSpecialization < 0 || minSpecialization > 1 {
		return Traits{}, fmt.Errorf("%w: min_specialization %v not in [0, 1]", ErrInvalidTraits, minSpecialization)
	}
	if incomePerPeriod <= 0 {
		return Traits{}, fmt.Errorf("%w: income_per_period %v must be > 0", ErrInvalidTraits, incomePerPeriod)
	}
	if homophily != nil && (*homophily < 0 || *homophily > 1) {
		return Traits{}, fmt.Errorf("%w: homophily %v not in [0, 1]", ErrInvalidTraits, *homophily)
	}

	t := Traits{
		MinSpecialization: minSpecialization,
		IncomePerPeriod:   incomePerPeriod,
	}
	// Own copies so the caller cannot mutate traits through its pointers.
	if group != nil {
		g := *group
		t.Group = &g
	}
	if homophily != nil {
		h := *homophily
		t.Homophily = &h
	}
	return t, nil
}

// Properties hold the mutable per-step state of an agent.
type Properties struct {
	IsSaver bool `json:"is_saver"`
}

// Saver encodings used as payoff matrix keys.
const (
	EncodingSaver    = "saver"
	EncodingNonSaver = "non-saver"
)

// SaverEncoding maps the saver property to its payoff matrix key.
func SaverEncoding(isSaver bool) string {
	if isSaver {
		return EncodingSaver
	}
	return EncodingNonSaver
}
