package main

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/kala/internal/lab"
	"github.com/talgya/kala/internal/persistence"
)

const ringExperiment = `
name: cli
seed: 3
steps: 12
runs: 3
workers: 2
network:
  kind: ring
  nodes: 10
population:
  saver_share: 0.5
  deterministic: true
  memory_length: 3
  rule:
    kind: all_past
logging:
  level: warn
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "exp.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "kala version "+version) {
		t.Errorf("output=%q", out)
	}

	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if v["version"] != version {
		t.Errorf("version=%q", v["version"])
	}
}

func TestRunJSON(t *testing.T) {
	path := writeConfig(t, ringExperiment)
	out, err := execute(t, "run", "-c", path, "--json")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var results []lab.RunResult
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v\n%s", err, out)
	}
	if len(results) != 3 {
		t.Fatalf("results=%d want 3", len(results))
	}
	for _, r := range results {
		if len(r.Series) != 1 {
			t.Errorf("run %d: series=%d want only the final summary", r.Run, len(r.Series))
		}
		if r.Series[0].Agents != 10 {
			t.Errorf("run %d: agents=%d", r.Run, r.Series[0].Agents)
		}
	}

	out, err = execute(t, "run", "-c", path, "--json", "--series", "--runs", "1", "--steps", "4")
	if err != nil {
		t.Fatalf("run with overrides: %v", err)
	}
	results = nil
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(results) != 1 || len(results[0].Series) != 5 {
		t.Fatalf("override not applied: %d runs", len(results))
	}
}

func TestRunText(t *testing.T) {
	path := writeConfig(t, ringExperiment)
	out, err := execute(t, "run", "-c", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "cli: 3 runs of 12 steps") {
		t.Errorf("header=%q", strings.SplitN(out, "\n", 2)[0])
	}
	if strings.Count(out, "  run ") != 3 {
		t.Errorf("expected one line per run:\n%s", out)
	}
}

func TestRunPersists(t *testing.T) {
	path := writeConfig(t, ringExperiment)
	dbPath := filepath.Join(t.TempDir(), "store", "runs.db")
	if _, err := execute(t, "run", "-c", path, "--db", dbPath, "--json"); err != nil {
		t.Fatalf("run: %v", err)
	}
	db, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	runs, err := db.Runs("cli")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(runs) != 3 {
		t.Errorf("stored runs=%d want 3", len(runs))
	}
}

func TestSurvivalJSON(t *testing.T) {
	path := writeConfig(t, ringExperiment)
	out, err := execute(t, "survival", "-c", path, "--json")
	if err != nil {
		t.Fatalf("survival: %v", err)
	}
	var report struct {
		Summary lab.Survival `json:"summary"`
		Runs    []struct {
			MinSavers int `json:"min_savers"`
		} `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
	s := report.Summary
	if s.Runs != 3 || s.Surviving+s.Extinct+s.Takeover != 3 || len(report.Runs) != 3 {
		t.Errorf("summary=%+v runs=%d", s, len(report.Runs))
	}
}

func TestInvalidConfig(t *testing.T) {
	path := writeConfig(t, "steps: -1\n")
	if _, err := execute(t, "run", "-c", path); err == nil {
		t.Fatal("expected error for invalid config")
	}
	if _, err := execute(t, "run", "-c", filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config")
	}
}

// gtTriangle is a three node cycle in graph-tool binary format.
func gtTriangle() []byte {
	var buf bytes.Buffer
	buf.Write([]byte{0xe2, 0x9b, 0xbe, 0x20, 0x67, 0x74})
	buf.WriteByte(1) // version
	buf.WriteByte(0) // little endian
	_ = binary.Write(&buf, binary.LittleEndian, uint64(0))
	buf.WriteByte(0) // undirected
	_ = binary.Write(&buf, binary.LittleEndian, uint64(3))
	for _, nbs := range [][]uint8{{1}, {2}, {0}} {
		_ = binary.Write(&buf, binary.LittleEndian, uint64(len(nbs)))
		buf.Write(nbs)
	}
	return buf.Bytes()
}

func TestFetch(t *testing.T) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd writer: %v", err)
	}
	payload := enc.EncodeAll(gtTriangle(), nil)
	enc.Close()

	var hits atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/net/tri/files/tri.gt.zst" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Write(payload)
	}))
	defer ts.Close()

	cache := t.TempDir()
	args := []string{"fetch", "tri", "--cache-dir", cache, "--base-url", ts.URL, "--json"}
	out, err := execute(t, args...)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	var res struct {
		Path   string `json:"path"`
		Cached bool   `json:"cached"`
		Nodes  int    `json:"nodes"`
		Edges  int    `json:"edges"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Cached || res.Nodes != 3 || res.Edges != 3 || res.Path != filepath.Join(cache, "tri.gt") {
		t.Errorf("first fetch=%+v", res)
	}

	out, err = execute(t, args...)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !res.Cached || hits.Load() != 1 {
		t.Errorf("second fetch cached=%t hits=%d", res.Cached, hits.Load())
	}

	if _, err := execute(t, "fetch", "missing", "--cache-dir", cache, "--base-url", ts.URL); err == nil {
		t.Error("expected error for a missing network")
	}
}
