// Package engine runs the saver game: payoff and matching strategies, the game
// state and its step, scheduled shocks and the driver loop.
package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/stats"
	"github.com/talgya/kala/internal/world"
)

// maxEvents bounds the event log; older events are dropped.
const maxEvents = 1000

// Event is a notable occurrence during a game.
type Event struct {
	Tick        int            `json:"tick"`
	Description string         `json:"description"`
	Category    string         `json:"category"` // "shock", "absorption", ...
	Meta        map[string]any `json:"meta,omitempty"`
}

// GameState holds everything a step consumes and a shock mutates.
type GameState struct {
	Topology  *world.Topology
	Agents    []*agents.Agent
	Placement *world.Placement
	Payoff    PayoffStrategy
	Matching  MatchingStrategy
	Time      int

	Logger *slog.Logger // nil = slog.Default()
	Events []Event      // Recent events (last maxEvents)

	stepping bool
}

// NewGameState assembles a state. The placement must be laid over topo.
func NewGameState(topo *world.Topology, pop []*agents.Agent, placement *world.Placement, payoff PayoffStrategy, matching MatchingStrategy) (*GameState, error) {
	switch {
	case topo == nil:
		return nil, errors.New("game state: nil topology")
	case placement == nil:
		return nil, errors.New("game state: nil placement")
	case placement.Topology() != topo:
		return nil, errors.New("game state: placement is laid over a different topology")
	case payoff == nil:
		return nil, errors.New("game state: nil payoff strategy")
	case matching == nil:
		return nil, errors.New("game state: nil matching strategy")
	}
	return &GameState{
		Topology:  topo,
		Agents:    pop,
		Placement: placement,
		Payoff:    payoff,
		Matching:  matching,
	}, nil
}

func (s *GameState) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// EmitEvent records an event, trimming the log to its last maxEvents entries.
func (s *GameState) EmitEvent(e Event) {
	s.Events = append(s.Events, e)
	if len(s.Events) > maxEvents {
		s.Events = s.Events[len(s.Events)-maxEvents:]
	}
}

// MatchResult is one side of a played match.
type MatchResult struct {
	Agent  *agents.Agent
	Payoff float64
	Lost   bool // payoff strictly below the pair maximum
}

// PlayMatch computes the payoffs of a pair. On a tie neither side loses.
func PlayMatch(pair Pair, payoff PayoffStrategy) [2]MatchResult {
	p := payoff.CalculatePayoff(pair[0], pair[1])
	best := p[0]
	if p[1] > best {
		best = p[1]
	}
	return [2]MatchResult{
		{Agent: pair[0], Payoff: p[0], Lost: p[0] < best},
		{Agent: pair[1], Payoff: p[1], Lost: p[1] < best},
	}
}

// StepReport summarises one step.
type StepReport struct {
	Time    int `json:"time"` // time the step was played at
	Matches int `json:"matches"`
	Flips   int `json:"flips"`
}

// Step plays one round: select matches, compute every payoff, then update the agents
// at the current time and advance it. Payoffs are all computed before any agent
// updates, so a flip mid-step does not change another match's outcome.
// Calling Step from inside a step panics.
func (s *GameState) Step() StepReport {
	if s.stepping {
		panic("engine: GameState.Step re-entered")
	}
	s.stepping = true
	defer func() { s.stepping = false }()

	matches := s.Matching.SelectMatches(s.Placement)
	results := make([]MatchResult, 0, 2*len(matches))
	for _, pair := range matches {
		r := PlayMatch(pair, s.Payoff)
		results = append(results, r[0], r[1])
	}

	flips := 0
	for _, r := range results {
		before := r.Agent.IsSaver()
		r.Agent.Update(r.Payoff, r.Lost, s.Time)
		if r.Agent.IsSaver() != before {
			flips++
		}
	}

	report := StepReport{Time: s.Time, Matches: len(matches), Flips: flips}
	s.Time++
	s.logger().Debug("step", "time", report.Time, "matches", report.Matches, "flips", report.Flips)
	return report
}

// RemoveAgent clears the agent's position and drops it from the live agents.
func (s *GameState) RemoveAgent(id agents.AgentID) bool {
	placed := s.Placement.RemoveAgent(id)
	for i, a := range s.Agents {
		if a.ID() == id {
			s.Agents = append(s.Agents[:i], s.Agents[i+1:]...)
			return true
		}
	}
	return placed
}

// AgentByID returns the live agent with the given id, or nil.
func (s *GameState) AgentByID(id agents.AgentID) *agents.Agent {
	for _, a := range s.Agents {
		if a.ID() == id {
			return a
		}
	}
	return nil
}

// TotalScore returns the sum of all live agents' scores.
func (s *GameState) TotalScore() float64 {
	total := 0.0
	for _, a := range s.Agents {
		total += a.Score()
	}
	return total
}

// NumSavers counts live agents with the saver property.
func (s *GameState) NumSavers() int {
	n := 0
	for _, a := range s.Agents {
		if a.IsSaver() {
			n++
		}
	}
	return n
}

// SaverAgents returns the live savers.
func (s *GameState) SaverAgents() []*agents.Agent {
	var out []*agents.Agent
	for _, a := range s.Agents {
		if a.IsSaver() {
			out = append(out, a)
		}
	}
	return out
}

// Scores returns live agents' scores in agent order.
func (s *GameState) Scores() []float64 {
	out := make([]float64, len(s.Agents))
	for i, a := range s.Agents {
		out[i] = a.Score()
	}
	return out
}

// Summary is a read-only snapshot of aggregate state.
type Summary struct {
	Time       int     `json:"time" db:"time"`
	Agents     int     `json:"agents" db:"agents"`
	Savers     int     `json:"savers" db:"savers"`
	SaverShare float64 `json:"saver_share" db:"saver_share"`
	TotalScore float64 `json:"total_score" db:"total_score"`
	MeanScore  float64 `json:"mean_score" db:"mean_score"`
	Gini       float64 `json:"gini" db:"gini"`
	Nodes      int     `json:"nodes" db:"nodes"`
	Edges      int     `json:"edges" db:"edges"`
}

// Summary computes the current aggregate state.
func (s *GameState) Summary() Summary {
	scores := s.Scores()
	sum := Summary{
		Time:       s.Time,
		Agents:     len(s.Agents),
		Savers:     s.NumSavers(),
		TotalScore: s.TotalScore(),
		MeanScore:  stats.Mean(scores),
		Gini:       stats.Gini(scores),
		Nodes:      s.Topology.NumNodes(),
		Edges:      s.Topology.NumEdges(),
	}
	if sum.Agents > 0 {
		sum.SaverShare = float64(sum.Savers) / float64(sum.Agents)
	}
	return sum
}

// Absorbed reports whether the population holds only savers or only non-savers.
func (s Summary) Absorbed() bool {
	return s.Savers == 0 || s.Savers == s.Agents
}

// String returns a one-line summary.
func (s Summary) String() string {
	return fmt.Sprintf("t=%d agents=%d savers=%d (%.1f%%) score=%.2f gini=%.3f",
		s.Time, s.Agents, s.Savers, 100*s.SaverShare, s.TotalScore, s.Gini)
}
