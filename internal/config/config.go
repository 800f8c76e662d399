// Package config loads experiment definitions from YAML files and environment
// variables. Files are validated against an embedded JSON schema before decoding.
package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/engine"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

//go:embed experiment.schema.json
var schemaSource string

var schema = jsonschema.MustCompileString("experiment.schema.json", schemaSource)

// Experiment is a complete game setup plus how to run it.
type Experiment struct {
	Name             string `json:"name" yaml:"name"`
	Seed             int64  `json:"seed" yaml:"seed"`
	Steps            int    `json:"steps" yaml:"steps"`
	Runs             int    `json:"runs" yaml:"runs"`
	Workers          int    `json:"workers" yaml:"workers"` // 0 = one per CPU
	StopOnAbsorption bool   `json:"stop_on_absorption" yaml:"stop_on_absorption"`

	Network    NetworkConfig    `json:"network" yaml:"network"`
	Population PopulationConfig `json:"population" yaml:"population"`
	Payoff     PayoffConfig     `json:"payoff" yaml:"payoff"`
	Shocks     []ShockConfig    `json:"shocks" yaml:"shocks"`
	Store      StoreConfig      `json:"store" yaml:"store"`
	Serve      ServeConfig      `json:"serve" yaml:"serve"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
}

// NetworkConfig selects the topology source.
type NetworkConfig struct {
	// Kind is one of hex, netz, edges, ring, complete, erdos_renyi.
	Kind string `json:"kind" yaml:"kind"`

	Radius      int      `json:"radius,omitempty" yaml:"radius,omitempty"`           // hex
	Nodes       int      `json:"nodes,omitempty" yaml:"nodes,omitempty"`             // edges, ring, complete, erdos_renyi
	Probability float64  `json:"probability,omitempty" yaml:"probability,omitempty"` // erdos_renyi
	Name        string   `json:"name,omitempty" yaml:"name,omitempty"`               // netz
	Net         string   `json:"net,omitempty" yaml:"net,omitempty"`                 // netz
	CacheDir    string   `json:"cache_dir,omitempty" yaml:"cache_dir,omitempty"`     // netz
	Edges       [][2]int `json:"edges,omitempty" yaml:"edges,omitempty"`             // edges
}

// PopulationConfig describes the agents placed on the network.
type PopulationConfig struct {
	SaverShare        float64  `json:"saver_share" yaml:"saver_share"`
	Deterministic     bool     `json:"deterministic" yaml:"deterministic"` // exactly round(share*n) savers
	Layout            string   `json:"layout" yaml:"layout"`               // random or field (hex only)
	MinSpecialization float64  `json:"min_specialization" yaml:"min_specialization"`
	IncomePerPeriod   float64  `json:"income_per_period" yaml:"income_per_period"`
	Homophily         *float64 `json:"homophily,omitempty" yaml:"homophily,omitempty"`
	MemoryLength      int      `json:"memory_length" yaml:"memory_length"`

	Rule  RuleConfig  `json:"rule" yaml:"rule"`
	Field FieldConfig `json:"field" yaml:"field"`
}

// RuleConfig selects the update rule.
type RuleConfig struct {
	// Kind is one of none, fraction, average, all_past, any_past, weighted, fraction_lost.
	Kind      string    `json:"kind" yaml:"kind"`
	Threshold float64   `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Fraction  float64   `json:"fraction,omitempty" yaml:"fraction,omitempty"`
	Weights   []float64 `json:"weights,omitempty" yaml:"weights,omitempty"`
}

// FieldConfig tunes the noise saver field.
type FieldConfig struct {
	Octaves     int     `json:"octaves" yaml:"octaves"`
	Frequency   float64 `json:"frequency" yaml:"frequency"`
	Persistence float64 `json:"persistence" yaml:"persistence"`
}

// PayoffConfig configures the cooperation payoff strategy.
type PayoffConfig struct {
	Stochastic    bool    `json:"stochastic" yaml:"stochastic"`
	Efficient     float64 `json:"efficient" yaml:"efficient"`
	Inefficient   float64 `json:"inefficient" yaml:"inefficient"`
	Mean          float64 `json:"mean" yaml:"mean"`
	VarianceScale float64 `json:"variance_scale" yaml:"variance_scale"` // noise variance = scale * entry
}

// ShockConfig schedules Count copies of a shock before step At.
type ShockConfig struct {
	At     int                `json:"at" yaml:"at"`
	Type   string             `json:"type" yaml:"type"`
	Count  int                `json:"count,omitempty" yaml:"count,omitempty"`
	Params engine.ShockParams `json:"params,omitempty" yaml:"params,omitempty"`
}

// StoreConfig configures the run store. An empty path disables it.
type StoreConfig struct {
	Path       string `json:"path" yaml:"path"`
	SaveAgents bool   `json:"save_agents" yaml:"save_agents"`
}

// ServeConfig configures the observation API.
type ServeConfig struct {
	Port     int           `json:"port" yaml:"port"`
	AdminKey string        `json:"admin_key,omitempty" yaml:"admin_key,omitempty"` // supports ${VAR}
	Interval time.Duration `json:"interval" yaml:"interval"`                       // pacing between steps
}

// LoggingConfig configures the slog handler.
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // text or json
}

// Default returns an experiment with sensible defaults: a radius 10 hex lattice,
// half savers, memory 10 and the average rule, 0.15 / 0.1 differentials.
func Default() *Experiment {
	return &Experiment{
		Name:  "experiment",
		Seed:  1,
		Steps: 1000,
		Runs:  1,
		Network: NetworkConfig{
			Kind:   "hex",
			Radius: 10,
		},
		Population: PopulationConfig{
			SaverShare:      0.5,
			Layout:          "random",
			IncomePerPeriod: 1,
			MemoryLength:    agents.DefaultMemoryLength,
			Rule:            RuleConfig{Kind: "average", Threshold: 0.5},
			Field: FieldConfig{
				Octaves:     3,
				Frequency:   0.12,
				Persistence: 0.5,
			},
		},
		Payoff: PayoffConfig{
			Efficient:     0.15,
			Inefficient:   0.1,
			VarianceScale: 1,
		},
		Serve: ServeConfig{
			Port:     8080,
			Interval: 100 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads an experiment file, then applies environment overrides.
// Order: defaults -> file -> environment.
func Load(path string) (*Experiment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	exp, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return exp, nil
}

// Parse validates data against the schema, decodes it over the defaults, applies
// environment overrides and checks cross-field constraints.
func Parse(data []byte) (*Experiment, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if raw != nil {
		doc, err := toJSONValue(raw)
		if err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
		if err := schema.Validate(doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}

	exp := Default()
	if err := yaml.Unmarshal(data, exp); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	exp.Serve.AdminKey = expandEnvVars(exp.Serve.AdminKey)
	applyEnvOverrides(exp)

	if err := exp.Validate(); err != nil {
		return nil, err
	}
	return exp, nil
}

// toJSONValue converts a YAML document to the generic form encoding/json produces,
// which is what the schema validator expects.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks constraints the schema cannot express.
func (e *Experiment) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	if e.Steps < 0 {
		return invalid("steps must be non-negative, got %d", e.Steps)
	}
	if e.Runs < 1 {
		return invalid("runs must be at least 1, got %d", e.Runs)
	}

	switch e.Network.Kind {
	case "hex":
	case "netz":
		if e.Network.Name == "" {
			return invalid("netz network needs a name")
		}
	case "edges":
		if len(e.Network.Edges) == 0 && e.Network.Nodes == 0 {
			return invalid("edges network needs nodes or edges")
		}
	case "ring", "complete", "erdos_renyi":
		if e.Network.Nodes < 1 {
			return invalid("%s network needs nodes >= 1", e.Network.Kind)
		}
	default:
		return invalid("unknown network kind %q", e.Network.Kind)
	}

	p := e.Population
	if p.SaverShare < 0 || p.SaverShare > 1 {
		return invalid("saver_share must be in [0, 1], got %v", p.SaverShare)
	}
	if p.Layout == "field" && e.Network.Kind != "hex" {
		return invalid("field layout needs a hex network")
	}
	if _, err := agents.NewTraits(nil, p.MinSpecialization, p.IncomePerPeriod, p.Homophily); err != nil {
		return invalid("population: %v", err)
	}
	if _, err := e.Population.Rule.Build(p.MemoryLength); err != nil {
		return invalid("rule: %v", err)
	}

	if _, err := engine.NewCooperationStrategy(e.Payoff.Cooperation(0)); err != nil {
		return invalid("payoff: %v", err)
	}

	for i, sc := range e.Shocks {
		if sc.At < 0 || (e.Steps > 0 && sc.At >= e.Steps) {
			return invalid("shocks[%d]: at %d outside [0, %d)", i, sc.At, e.Steps)
		}
		if sc.Count < 0 {
			return invalid("shocks[%d]: negative count", i)
		}
		if _, err := engine.NewShock(sc.Type, sc.Params, 0); err != nil {
			return invalid("shocks[%d]: %v", i, err)
		}
	}

	if _, err := ParseLevel(e.Logging.Level); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// Build returns the configured update rule, or nil for kind none.
func (r RuleConfig) Build(memoryLength int) (agents.UpdateRule, error) {
	switch r.Kind {
	case "none", "":
		return nil, nil
	case "fraction":
		return agents.NewFractionRule(r.Threshold)
	case "average":
		return agents.AverageRule(), nil
	case "all_past":
		return agents.AllPastRule{}, nil
	case "any_past":
		return agents.AnyPastRule{}, nil
	case "weighted":
		return agents.NewWeightedRule(memoryLength, r.Weights, r.Threshold)
	case "fraction_lost":
		return agents.NewFlipAfterFractionLost(r.Fraction)
	default:
		return nil, fmt.Errorf("unknown rule kind %q", r.Kind)
	}
}

// Cooperation converts the payoff section to strategy parameters.
func (p PayoffConfig) Cooperation(seed int64) engine.CooperationConfig {
	scale := p.VarianceScale
	if scale <= 0 {
		scale = 1
	}
	return engine.CooperationConfig{
		Stochastic:              p.Stochastic,
		DifferentialEfficient:   p.Efficient,
		DifferentialInefficient: p.Inefficient,
		Mean:                    p.Mean,
		Variance:                func(x float64) float64 { return scale * x },
		Seed:                    seed,
	}
}

// ParseLevel maps a level name to a slog level. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", s)
	}
}

// applyEnvOverrides applies environment variable overrides to the experiment.
func applyEnvOverrides(e *Experiment) {
	if v := os.Getenv("KALA_CACHE_DIR"); v != "" {
		e.Network.CacheDir = v
	}
	if v := os.Getenv("KALA_DB"); v != "" {
		e.Store.Path = v
	}
	if v := os.Getenv("KALA_LOG_LEVEL"); v != "" {
		e.Logging.Level = v
	}
	if v := os.Getenv("KALA_ADMIN_KEY"); v != "" {
		e.Serve.AdminKey = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
