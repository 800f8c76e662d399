package agents

import "fmt"

// Agent is a player in the saver game. It exclusively owns its properties and
// memory; the update rule receives pointers to them and may mutate both.
type Agent struct {
	id         AgentID
	traits     Traits
	properties Properties
	score      float64
	memory     *Memory
	rule       UpdateRule
}

// NewAgent builds an agent with an empty memory of the given length.
// rule may be nil, in which case the saver trait never adapts.
func NewAgent(id AgentID, traits Traits, props Properties, memoryLength int, rule UpdateRule) (*Agent, error) {
	if memoryLength < 0 {
		return nil, fmt.Errorf("%w: memory length %d is negative", ErrInvalidRule, memoryLength)
	}
	return &Agent{
		id:         id,
		traits:     traits,
		properties: props,
		memory:     NewMemory(memoryLength),
		rule:       rule,
	}, nil
}

// ID returns the agent identifier.
func (a *Agent) ID() AgentID { return a.id }

// Traits returns a copy of the agent's traits.
func (a *Agent) Traits() Traits { return a.traits }

// Properties returns a copy of the agent's current properties.
func (a *Agent) Properties() Properties { return a.properties }

// IsSaver reports the current saver property.
func (a *Agent) IsSaver() bool { return a.properties.IsSaver }

// Score returns the cumulative payoff.
func (a *Agent) Score() float64 { return a.score }

// Memory returns the agent's memory for inspection.
func (a *Agent) Memory() *Memory { return a.memory }

// Rule returns the configured update rule, or nil.
func (a *Agent) Rule() UpdateRule { return a.rule }

// Update records a played match: the payoff is added to the score, a memory item
// is appended, and the update rule (if any) gets to flip the saver trait.
func (a *Agent) Update(payoff float64, lost bool, time int) {
	a.score += payoff
	a.memory.Append(MemoryItem{
		Payoff:     payoff,
		Score:      a.score,
		Properties: a.properties,
		MatchLost:  lost,
		Time:       time,
	})
	if a.rule != nil {
		ApplyRule(a.rule, &a.properties, a.memory)
	}
}

// FlipSaver inverts the saver property, bypassing the update rule.
// Administrative use only (shocks).
func (a *Agent) FlipSaver() {
	a.properties.IsSaver = !a.properties.IsSaver
}

// SetSaver forces the saver property. Administrative use only (shocks).
func (a *Agent) SetSaver(isSaver bool) {
	a.properties.IsSaver = isSaver
}

// SetMemoryLength changes the memory capacity, keeping the most recent records.
func (a *Agent) SetMemoryLength(n int) {
	a.memory.Resize(n)
}

func (a *Agent) String() string {
	return fmt.Sprintf("Agent(id=%d, saver=%t, score=%.3f)", a.id, a.properties.IsSaver, a.score)
}
