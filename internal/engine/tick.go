package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Engine drives a game plan forward step by step. Outside goroutines read the state
// through View and queue shocks through Inject; both are serialised with the step.
type Engine struct {
	Plan     *GamePlan
	Interval time.Duration // Minimum wall time per step (0 = as fast as possible)

	// Callbacks, populated during setup. They run on the engine goroutine with the
	// state lock held and must not call View or Inject.
	OnStep  func(report StepReport, s *GameState)
	OnShock func(sh Shock, s *GameState)

	mu       sync.RWMutex
	state    *GameState
	tick     int // plan index of the next step
	pending  []Shock
	pendMu   sync.Mutex
	running  bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewEngine creates an engine for state and plan.
func NewEngine(state *GameState, plan *GamePlan) *Engine {
	return &Engine{
		Plan:  plan,
		state: state,
		stop:  make(chan struct{}),
	}
}

// Run plays the remaining steps of the plan. It returns nil when the plan completes
// or Stop is called, and ctx.Err() on cancellation. Shocks queued with Inject are
// applied before the scheduled shocks of the next step.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	slog.Info("simulation engine started", "tick", e.Tick(), "steps", e.Plan.Steps, "interval", e.Interval)
	for e.Tick() < e.Plan.Steps {
		select {
		case <-ctx.Done():
			slog.Info("simulation engine cancelled", "tick", e.Tick())
			return ctx.Err()
		case <-e.stop:
			slog.Info("simulation engine stopped", "tick", e.Tick())
			return nil
		default:
		}

		start := time.Now()
		e.step()

		// Sleep for the remainder of the step interval.
		if elapsed := time.Since(start); elapsed < e.Interval {
			timer := time.NewTimer(e.Interval - elapsed)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-e.stop:
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}
	}

	slog.Info("simulation engine finished", "tick", e.Tick())
	return nil
}

// step advances the game by one plan step.
func (e *Engine) step() {
	injected := e.drain()

	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Time = e.tick
	for _, sh := range injected {
		e.applyShock(sh)
	}
	for _, sh := range e.Plan.Shocks[e.tick] {
		e.applyShock(sh)
	}

	e.state.Time = e.tick
	report := e.state.Step()
	e.tick++
	if e.OnStep != nil {
		e.OnStep(report, e.state)
	}
}

func (e *Engine) applyShock(sh Shock) {
	e.state = ApplyShock(e.state, sh)
	if e.OnShock != nil {
		e.OnShock(sh, e.state)
	}
}

func (e *Engine) drain() []Shock {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	out := e.pending
	e.pending = nil
	return out
}

// Inject queues a shock for the next step boundary.
func (e *Engine) Inject(sh Shock) {
	e.pendMu.Lock()
	e.pending = append(e.pending, sh)
	e.pendMu.Unlock()
}

// Pending returns the number of queued shocks.
func (e *Engine) Pending() int {
	e.pendMu.Lock()
	defer e.pendMu.Unlock()
	return len(e.pending)
}

// Stop halts the loop at the next step boundary.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stop) })
}

// View runs fn with read access to the current state.
func (e *Engine) View(fn func(s *GameState)) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	fn(e.state)
}

// Tick returns the number of plan steps played.
func (e *Engine) Tick() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.tick
}

// Running reports whether Run is active.
func (e *Engine) Running() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
