// Update rules decide, from a full memory window, whether an agent should
// abandon its current saver strategy.
package agents

import (
	"errors"
	"fmt"
)

// ErrInvalidRule is returned when an update rule is built with bad parameters.
var ErrInvalidRule = errors.New("invalid update rule")

// UpdateRule inspects an agent's memory and decides whether to flip the saver trait.
// ShouldFlip must return false unless the memory is full.
type UpdateRule interface {
	Name() string
	ShouldFlip(mem *Memory) bool
}

// ApplyRule evaluates rule against mem. When it fires, props.IsSaver is flipped in
// place and the memory is cleared, so the next decision needs a fresh full window.
// Reports whether the rule fired.
func ApplyRule(rule UpdateRule, props *Properties, mem *Memory) bool {
	if rule == nil || !mem.Full() || !rule.ShouldFlip(mem) {
		return false
	}
	props.IsSaver = !props.IsSaver
	mem.Clear()
	return true
}

// FractionRule fires when the share of matches won in the window is below Threshold.
// Threshold 0 fires only when no match was won; Threshold 1 fires on any loss.
type FractionRule struct {
	Threshold float64
}

// NewFractionRule validates threshold ∈ [0, 1].
func NewFractionRule(threshold float64) (FractionRule, error) {
	if threshold < 0 || threshold > 1 {
		return FractionRule{}, fmt.Errorf("%w: fraction %v not in [0, 1]", ErrInvalidRule, threshold)
	}
	return FractionRule{Threshold: threshold}, nil
}

// AverageRule fires when fewer than half of the remembered matches were won.
func AverageRule() FractionRule {
	return FractionRule{Threshold: 0.5}
}

func (r FractionRule) Name() string {
	return fmt.Sprintf("fraction(%g)", r.Threshold)
}

func (r FractionRule) ShouldFlip(mem *Memory) bool {
	if !mem.Full() {
		return false
	}
	wins := mem.Wins()
	if r.Threshold == 0 {
		return wins == 0
	}
	return float64(wins) < float64(mem.Cap())*r.Threshold
}

// AllPastRule fires when every match in the window was lost.
type AllPastRule struct{}

func (AllPastRule) Name() string { return "all_past" }

func (AllPastRule) ShouldFlip(mem *Memory) bool {
	return mem.Full() && mem.Losses() == mem.Cap()
}

// AnyPastRule fires when at least one match in the window was lost.
type AnyPastRule struct{}

func (AnyPastRule) Name() string { return "any_past" }

func (AnyPastRule) ShouldFlip(mem *Memory) bool {
	return mem.Full() && mem.Losses() > 0
}

// WeightedRule compares the weighted average of match wins against Threshold.
// Weights are aligned oldest first, so the last weight applies to the most recent match.
type WeightedRule struct {
	Weights   []float64
	Threshold float64
}

// NewWeightedRule validates the weight vector against the memory length it will judge.
func NewWeightedRule(memoryLength int, weights []float64, threshold float64) (WeightedRule, error) {
	if memoryLength < 0 {
		return WeightedRule{}, fmt.Errorf("%w: memory length %d is negative", ErrInvalidRule, memoryLength)
	}
	if len(weights) != memoryLength {
		return WeightedRule{}, fmt.Errorf("%w: expected %d weights, got %d", ErrInvalidRule, memoryLength, len(weights))
	}
	if threshold < 0 || threshold > 1 {
		return WeightedRule{}, fmt.Errorf("%w: fraction %v not in [0, 1]", ErrInvalidRule, threshold)
	}
	total := 0.0
	for i, w := range weights {
		if w < 0 {
			return WeightedRule{}, fmt.Errorf("%w: weight %d is negative", ErrInvalidRule, i)
		}
		total += w
	}
	if memoryLength > 0 && total == 0 {
		return WeightedRule{}, fmt.Errorf("%w: weights sum to zero", ErrInvalidRule)
	}
	ws := make([]float64, len(weights))
	copy(ws, weights)
	return WeightedRule{Weights: ws, Threshold: threshold}, nil
}

func (r WeightedRule) Name() string {
	return fmt.Sprintf("weighted(%g)", r.Threshold)
}

func (r WeightedRule) ShouldFlip(mem *Memory) bool {
	// A memory-length shock can leave the weights stale; no decision then.
	if !mem.Full() || len(r.Weights) != mem.Cap() {
		return false
	}
	var num, den float64
	for i, it := range mem.Items() {
		w := r.Weights[i]
		den += w
		if !it.MatchLost {
			num += w
		}
	}
	if den == 0 {
		return false
	}
	return num/den < r.Threshold
}

// FlipAfterFractionLost fires when at least Fraction of the window was lost.
// Fraction 0 means any loss at all.
type FlipAfterFractionLost struct {
	Fraction float64
}

// NewFlipAfterFractionLost validates fraction ∈ [0, 1].
func NewFlipAfterFractionLost(fraction float64) (FlipAfterFractionLost, error) {
	if fraction < 0 || fraction > 1 {
		return FlipAfterFractionLost{}, fmt.Errorf("%w: fraction %v not in [0, 1]", ErrInvalidRule, fraction)
	}
	return FlipAfterFractionLost{Fraction: fraction}, nil
}

func (r FlipAfterFractionLost) Name() string {
	return fmt.Sprintf("flip_after_fraction_lost(%g)", r.Fraction)
}

func (r FlipAfterFractionLost) ShouldFlip(mem *Memory) bool {
	if !mem.Full() {
		return false
	}
	losses := mem.Losses()
	if r.Fraction == 0 {
		return losses > 0
	}
	return float64(losses) >= float64(mem.Cap())*r.Fraction
}
