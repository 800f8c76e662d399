package lab

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/talgya/kala/internal/config"
	"github.com/talgya/kala/internal/engine"
	"github.com/talgya/kala/internal/persistence"
	"github.com/talgya/kala/internal/stats"
)

// RunResult is the outcome of one game.
type RunResult struct {
	Run   int    `json:"run"`
	Seed  int64  `json:"seed"`
	RunID string `json:"run_id,omitempty"` // store id, when persisted

	// Series holds the state before the first step followed by the state after each step.
	Series []engine.Summary `json:"series"`

	MinSavers  int  `json:"min_savers"`
	MinTime    int  `json:"min_time"`
	Absorbed   bool `json:"absorbed"`
	AbsorbedAt int  `json:"absorbed_at"` // -1 if never

	// AbsorbedSavers is the saver count at absorption: 0 or the population size.
	AbsorbedSavers int `json:"absorbed_savers"`

	state *engine.GameState
}

// Final returns the last summary of the run.
func (r RunResult) Final() engine.Summary {
	if len(r.Series) == 0 {
		return engine.Summary{}
	}
	return r.Series[len(r.Series)-1]
}

// Runner plays the runs of an experiment in a worker pool.
type Runner struct {
	Workers    int               // 0 = one per CPU
	Store      *persistence.DB   // nil = results are not persisted
	SaveAgents bool              // store a final agent snapshot per run
	Logger     *slog.Logger      // nil = slog.Default()
	OnResult   func(r RunResult) // called from the collecting goroutine as runs finish
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// RunSeed derives the seed of run i from the experiment seed.
func RunSeed(base int64, i int) int64 {
	return base + int64(i)*1_000_003
}

// Run plays exp.Runs independent games over net and returns results in run order.
func (r *Runner) Run(ctx context.Context, exp *config.Experiment, net Network) ([]RunResult, error) {
	type job struct {
		idx int
	}
	type result struct {
		idx int
		res RunResult
		err error
	}

	runs := exp.Runs
	if runs <= 0 {
		return nil, nil
	}
	jobs := make(chan job)
	results := make(chan result, runs)

	workerCount := r.Workers
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if workerCount > runs {
		workerCount = runs
	}

	r.logger().Info("experiment started", "name", exp.Name, "runs", runs, "workers", workerCount, "steps", exp.Steps)

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for w := 0; w < workerCount; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{idx: j.idx, err: err}
					continue
				}
				res, err := r.Play(ctx, exp, net, j.idx)
				results <- result{idx: j.idx, res: res, err: err}
			}
		}()
	}

	go func() {
		for i := 0; i < runs; i++ {
			jobs <- job{idx: i}
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	out := make([]RunResult, runs)
	var firstErr error
	for res := range results {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
			}
			continue
		}
		if r.Store != nil {
			if err := r.persist(exp, &res.res); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("persist run %d: %w", res.idx, err)
			}
		}
		res.res.state = nil
		if r.OnResult != nil {
			r.OnResult(res.res)
		}
		out[res.idx] = res.res
	}
	if firstErr != nil {
		return nil, firstErr
	}

	r.logger().Info("experiment finished", "name", exp.Name, "runs", runs)
	return out, nil
}

// Play builds and plays run i of exp. It stops early at absorption when the
// experiment asks for it.
func (r *Runner) Play(ctx context.Context, exp *config.Experiment, net Network, i int) (RunResult, error) {
	seed := RunSeed(exp.Seed, i)
	state, plan, err := Build(exp, net, seed)
	if err != nil {
		return RunResult{}, fmt.Errorf("run %d: %w", i, err)
	}
	state.Logger = r.logger().With("run", i)

	res := RunResult{Run: i, Seed: seed, AbsorbedAt: -1, state: state}
	record := func(s engine.Summary) bool {
		res.Series = append(res.Series, s)
		if s.Absorbed() && !res.Absorbed {
			res.Absorbed = true
			res.AbsorbedAt = s.Time
			res.AbsorbedSavers = s.Savers
		}
		return !(exp.StopOnAbsorption && res.Absorbed)
	}

	if record(state.Summary()) {
		for _, s := range engine.PlayGame(state, plan) {
			if err := ctx.Err(); err != nil {
				return RunResult{}, err
			}
			res.state = s
			if !record(s.Summary()) {
				break
			}
		}
	}

	savers := make([]float64, len(res.Series))
	for k, s := range res.Series {
		savers[k] = float64(s.Savers)
	}
	if k, _ := stats.ArgMin(savers); k >= 0 {
		res.MinSavers = res.Series[k].Savers
		res.MinTime = res.Series[k].Time
	}

	state.Logger.Debug("run finished", "steps", len(res.Series)-1, "absorbed", res.Absorbed, "min_savers", res.MinSavers)
	return res, nil
}

func (r *Runner) persist(exp *config.Experiment, res *RunResult) error {
	run := &persistence.Run{
		Experiment: exp.Name,
		RunIndex:   res.Run,
		Seed:       res.Seed,
		Steps:      len(res.Series) - 1,
		Absorbed:   res.Absorbed,
		AbsorbedAt: res.AbsorbedAt,
	}
	if err := r.Store.SaveRun(run, exp, res.Series, res.state, r.SaveAgents); err != nil {
		return err
	}
	res.RunID = run.ID
	return nil
}

// Survival aggregates the outcomes of many runs.
type Survival struct {
	Runs          int     `json:"runs"`
	Extinct       int     `json:"extinct"`   // absorbed with no savers
	Takeover      int     `json:"takeover"`  // absorbed with only savers
	Surviving     int     `json:"surviving"` // never absorbed
	MeanMinSavers float64 `json:"mean_min_savers"`
	MeanMinTime   float64 `json:"mean_min_time"`
	MeanFinalGini float64 `json:"mean_final_gini"`
}

// Summarize computes survival statistics over results.
func Summarize(results []RunResult) Survival {
	out := Survival{Runs: len(results)}
	mins := make([]float64, 0, len(results))
	times := make([]float64, 0, len(results))
	ginis := make([]float64, 0, len(results))
	for _, r := range results {
		switch {
		case !r.Absorbed:
			out.Surviving++
		case r.AbsorbedSavers == 0:
			out.Extinct++
		default:
			out.Takeover++
		}
		mins = append(mins, float64(r.MinSavers))
		times = append(times, float64(r.MinTime))
		ginis = append(ginis, r.Final().Gini)
	}
	out.MeanMinSavers = stats.Mean(mins)
	out.MeanMinTime = stats.Mean(times)
	out.MeanFinalGini = stats.Mean(ginis)
	return out
}
