package engine

import (
	"fmt"
	"iter"
	"sort"
)

// GamePlan is a step count plus the shocks scheduled before given steps.
type GamePlan struct {
	Steps  int
	Shocks map[int][]Shock // time -> shocks, applied in order
}

// NewGamePlan validates and returns a plan. shocks may be nil.
func NewGamePlan(steps int, shocks map[int][]Shock) (*GamePlan, error) {
	if steps < 0 {
		return nil, fmt.Errorf("game plan: negative step count %d", steps)
	}
	p := &GamePlan{Steps: steps, Shocks: make(map[int][]Shock, len(shocks))}
	for t, list := range shocks {
		if err := p.Schedule(t, list...); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Schedule appends shocks to run before the step at time.
func (p *GamePlan) Schedule(time int, shocks ...Shock) error {
	if time < 0 {
		return fmt.Errorf("game plan: negative shock time %d", time)
	}
	if p.Shocks == nil {
		p.Shocks = make(map[int][]Shock)
	}
	p.Shocks[time] = append(p.Shocks[time], shocks...)
	return nil
}

// ShockTimes returns the scheduled times in ascending order.
func (p *GamePlan) ShockTimes() []int {
	times := make([]int, 0, len(p.Shocks))
	for t, list := range p.Shocks {
		if len(list) > 0 {
			times = append(times, t)
		}
	}
	sort.Ints(times)
	return times
}

// ApplyShock applies sh and returns the state to continue with. A shock returning
// nil leaves the current state in place.
func ApplyShock(s *GameState, sh Shock) *GameState {
	next := sh.Apply(s)
	if next == nil {
		s.logger().Warn("shock returned no state", "shock", sh.Name(), "time", s.Time)
		return s
	}
	return next
}

// PlayGame iterates the plan: for each time in [0, Steps) it applies the shocks
// scheduled at that time, plays a step and yields (time, state). The loop time is
// authoritative: the state's Time is set to it before the shocks, so a second pass
// over the same state restarts at 0 and stamps memories with the plan's times. The
// caller may stop at any yield; the state is never left mid-step.
func PlayGame(state *GameState, plan *GamePlan) iter.Seq2[int, *GameState] {
	return func(yield func(int, *GameState) bool) {
		s := state
		for t := 0; t < plan.Steps; t++ {
			s.Time = t
			for _, sh := range plan.Shocks[t] {
				s = ApplyShock(s, sh)
			}
			s.Time = t
			s.Step()
			if !yield(t, s) {
				return
			}
		}
	}
}
