package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/talgya/kala/internal/agents"
	"github.com/talgya/kala/internal/engine"
)

func TestDefault(t *testing.T) {
	exp := Default()
	if err := exp.Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
	if exp.Network.Kind != "hex" || exp.Network.Radius != 10 {
		t.Errorf("network defaults %+v", exp.Network)
	}
	if exp.Population.MemoryLength != agents.DefaultMemoryLength {
		t.Errorf("memory length %d", exp.Population.MemoryLength)
	}
	if exp.Payoff.Efficient != 0.15 || exp.Payoff.Inefficient != 0.1 {
		t.Errorf("payoff defaults %+v", exp.Payoff)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exp.yaml")
	content := `
name: survival
seed: 7
steps: 200
runs: 4
workers: 2
stop_on_absorption: true
network:
  kind: edges
  edges: [[0, 1], [1, 2], [2, 0]]
population:
  saver_share: 0.3
  deterministic: true
  homophily: 0.8
  memory_length: 4
  rule:
    kind: all_past
payoff:
  stochastic: true
  variance_scale: 0.01
shocks:
  - at: 50
    type: remove_random_agent
    count: 2
  - at: 60
    type: change_differentials
    params: {efficient: 0.3, inefficient: 0.2}
serve:
  interval: 250ms
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	exp, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if exp.Name != "survival" || exp.Seed != 7 || exp.Steps != 200 || exp.Runs != 4 || !exp.StopOnAbsorption {
		t.Errorf("top level %+v", exp)
	}
	if want := [][2]int{{0, 1}, {1, 2}, {2, 0}}; !reflect.DeepEqual(exp.Network.Edges, want) {
		t.Errorf("edges %v", exp.Network.Edges)
	}
	if exp.Population.Homophily == nil || *exp.Population.Homophily != 0.8 {
		t.Errorf("homophily %v", exp.Population.Homophily)
	}
	// Unset fields keep their defaults.
	if exp.Payoff.Efficient != 0.15 || exp.Population.IncomePerPeriod != 1 {
		t.Errorf("defaults lost: %+v %+v", exp.Payoff, exp.Population)
	}
	if len(exp.Shocks) != 2 || exp.Shocks[0].Count != 2 || exp.Shocks[1].Params["efficient"] != 0.3 {
		t.Errorf("shocks %+v", exp.Shocks)
	}
	if exp.Serve.Interval != 250*time.Millisecond {
		t.Errorf("interval %v", exp.Serve.Interval)
	}

	rule, err := exp.Population.Rule.Build(exp.Population.MemoryLength)
	if err != nil || rule.Name() != (agents.AllPastRule{}).Name() {
		t.Errorf("rule %v %v", rule, err)
	}
}

func TestSchemaRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":      "colour: blue\n",
		"negative steps":     "steps: -1\n",
		"share above one":    "population: {saver_share: 1.5}\n",
		"unknown shock":      "shocks: [{at: 1, type: meteor}]\n",
		"shock without time": "shocks: [{type: flip_all}]\n",
		"bad network kind":   "network: {kind: torus}\n",
		"bad log level":      "logging: {level: loud}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestValidateCrossField(t *testing.T) {
	cases := map[string]string{
		"shock after last step": "steps: 10\nshocks: [{at: 10, type: flip_all}]\n",
		"shock missing params":  "shocks: [{at: 1, type: remove_edge, params: {u: 1}}]\n",
		"field layout on ring":  "network: {kind: ring, nodes: 5}\npopulation: {layout: field}\n",
		"netz without name":     "network: {kind: netz}\n",
		"weights length":        "population: {memory_length: 3, rule: {kind: weighted, weights: [1, 1], threshold: 0.5}}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(doc)); !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KALA_DB", "/tmp/runs.db")
	t.Setenv("KALA_CACHE_DIR", "/tmp/cache")
	t.Setenv("KALA_LOG_LEVEL", "warn")
	t.Setenv("SECRET", "s3cret")

	exp, err := Parse([]byte("serve: {admin_key: \"${SECRET}\"}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if exp.Store.Path != "/tmp/runs.db" || exp.Network.CacheDir != "/tmp/cache" || exp.Logging.Level != "warn" {
		t.Errorf("overrides not applied: %+v %+v %+v", exp.Store, exp.Network, exp.Logging)
	}
	if exp.Serve.AdminKey != "s3cret" {
		t.Errorf("admin key %q", exp.Serve.AdminKey)
	}

	t.Setenv("KALA_ADMIN_KEY", "override")
	exp, _ = Parse([]byte("serve: {admin_key: \"${SECRET}\"}\n"))
	if exp.Serve.AdminKey != "override" {
		t.Errorf("admin key %q", exp.Serve.AdminKey)
	}
}

func TestEmptyDocumentGivesDefaults(t *testing.T) {
	exp, err := Parse(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !reflect.DeepEqual(exp.Network, Default().Network) {
		t.Fatalf("network %+v", exp.Network)
	}
}

func TestSchemaListsEveryShockKind(t *testing.T) {
	for _, kind := range engine.ShockKinds() {
		doc := "shocks: [{at: 0, type: " + kind + "}]\n"
		_, err := Parse([]byte(doc))
		// Params may be missing; only a schema rejection of the kind itself is a failure.
		if err != nil && !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: %v", kind, err)
		}
		if err != nil && containsEnumError(err) {
			t.Fatalf("schema does not list shock kind %s: %v", kind, err)
		}
	}
}

func containsEnumError(err error) bool {
	return strings.Contains(err.Error(), "value must be one of")
}
