// Package persistence provides SQLite-based storage of experiment runs: one row per
// run, its per-step summaries, shock events and a final agent snapshot.
package persistence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/talgya/kala/internal/engine"
)

// DB wraps a SQLite connection for run storage.
type DB struct {
	conn *sqlx.DB
}

// Run is one stored simulation run.
type Run struct {
	ID         string `db:"id" json:"id"`
	Experiment string `db:"experiment" json:"experiment"`
	RunIndex   int    `db:"run_index" json:"run_index"`
	Seed       int64  `db:"seed" json:"seed"`
	ConfigJSON string `db:"config_json" json:"-"`
	CreatedAt  int64  `db:"created_at" json:"created_at"` // unix seconds
	Steps      int    `db:"steps" json:"steps"`
	Absorbed   bool   `db:"absorbed" json:"absorbed"`
	AbsorbedAt int    `db:"absorbed_at" json:"absorbed_at"` // -1 if never
}

// AgentRow is a stored agent snapshot.
type AgentRow struct {
	RunID             string  `db:"run_id" json:"-"`
	AgentID           uint64  `db:"agent_id" json:"agent_id"`
	IsSaver           bool    `db:"is_saver" json:"is_saver"`
	Score             float64 `db:"score" json:"score"`
	MemoryLength      int     `db:"memory_length" json:"memory_length"`
	MinSpecialization float64 `db:"min_specialization" json:"min_specialization"`
	Node              *int    `db:"node" json:"node,omitempty"`
}

type summaryRow struct {
	RunID string `db:"run_id"`
	engine.Summary
}

// Open opens or creates a SQLite database at the given path.
func Open(path string) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		experiment TEXT NOT NULL,
		run_index INTEGER NOT NULL,
		seed INTEGER NOT NULL,
		config_json TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		steps INTEGER NOT NULL DEFAULT 0,
		absorbed INTEGER NOT NULL DEFAULT 0,
		absorbed_at INTEGER NOT NULL DEFAULT -1
	);

	CREATE TABLE IF NOT EXISTS summaries (
		run_id TEXT NOT NULL REFERENCES runs(id),
		time INTEGER NOT NULL,
		agents INTEGER NOT NULL,
		savers INTEGER NOT NULL,
		saver_share REAL NOT NULL,
		total_score REAL NOT NULL,
		mean_score REAL NOT NULL,
		gini REAL NOT NULL,
		nodes INTEGER NOT NULL,
		edges INTEGER NOT NULL,
		PRIMARY KEY (run_id, time)
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		tick INTEGER NOT NULL,
		description TEXT NOT NULL,
		category TEXT NOT NULL,
		meta_json TEXT
	);

	CREATE TABLE IF NOT EXISTS agents (
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id INTEGER NOT NULL,
		is_saver INTEGER NOT NULL,
		score REAL NOT NULL,
		memory_length INTEGER NOT NULL,
		min_specialization REAL NOT NULL,
		node INTEGER,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE TABLE IF NOT EXISTS store_meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_run ON events(run_id, tick);
	CREATE INDEX IF NOT EXISTS idx_runs_experiment ON runs(experiment);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// CreateRun inserts a run, assigning a fresh UUID when run.ID is empty.
// cfg is stored as JSON for reproduction.
func (db *DB) CreateRun(run *Run, cfg any) error {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.CreatedAt == 0 {
		run.CreatedAt = time.Now().Unix()
	}
	if cfg != nil {
		b, err := json.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("encode config: %w", err)
		}
		run.ConfigJSON = string(b)
	} else if run.ConfigJSON == "" {
		run.ConfigJSON = "{}"
	}
	if run.AbsorbedAt == 0 && !run.Absorbed {
		run.AbsorbedAt = -1
	}

	_, err := db.conn.NamedExec(`INSERT INTO runs
		(id, experiment, run_index, seed, config_json, created_at, steps, absorbed, absorbed_at)
		VALUES (:id, :experiment, :run_index, :seed, :config_json, :created_at, :steps, :absorbed, :absorbed_at)`,
		run)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a run.
func (db *DB) FinishRun(id string, steps int, absorbed bool, absorbedAt int) error {
	res, err := db.conn.Exec(
		"UPDATE runs SET steps = ?, absorbed = ?, absorbed_at = ? WHERE id = ?",
		steps, absorbed, absorbedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish run: no run %s", id)
	}
	return nil
}

// SaveSummaries writes per-step summaries of a run.
func (db *DB) SaveSummaries(runID string, series []engine.Summary) error {
	if len(series) == 0 {
		return nil
	}
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareNamed(`INSERT OR REPLACE INTO summaries
		(run_id, time, agents, savers, saver_share, total_score, mean_score, gini, nodes, edges)
		VALUES (:run_id, :time, :agents, :savers, :saver_share, :total_score, :mean_score, :gini, :nodes, :edges)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range series {
		if _, err := stmt.Exec(summaryRow{RunID: runID, Summary: s}); err != nil {
			return fmt.Errorf("insert summary t=%d: %w", s.Time, err)
		}
	}

	return tx.Commit()
}

// SaveEvents appends events of a run.
func (db *DB) SaveEvents(runID string, events []engine.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range events {
		var meta *string
		if len(e.Meta) > 0 {
			b, err := json.Marshal(e.Meta)
			if err != nil {
				return fmt.Errorf("encode event meta: %w", err)
			}
			s := string(b)
			meta = &s
		}
		_, err := tx.Exec(
			"INSERT INTO events (run_id, tick, description, category, meta_json) VALUES (?, ?, ?, ?, ?)",
			runID, e.Tick, e.Description, e.Category, meta,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// SaveAgents writes a snapshot of the live agents of state (full replace per run).
func (db *DB) SaveAgents(runID string, state *engine.GameState) error {
	tx, err := db.conn.Beginx()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM agents WHERE run_id = ?", runID); err != nil {
		return err
	}

	stmt, err := tx.PrepareNamed(`INSERT INTO agents
		(run_id, agent_id, is_saver, score, memory_length, min_specialization, node)
		VALUES (:run_id, :agent_id, :is_saver, :score, :memory_length, :min_specialization, :node)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, a := range state.Agents {
		row := AgentRow{
			RunID:             runID,
			AgentID:           uint64(a.ID()),
			IsSaver:           a.IsSaver(),
			Score:             a.Score(),
			MemoryLength:      a.Memory().Cap(),
			MinSpecialization: a.Traits().MinSpecialization,
		}
		if pos, ok := state.Placement.Position(a.ID()); ok {
			n := int(pos)
			row.Node = &n
		}
		if _, err := stmt.Exec(row); err != nil {
			return fmt.Errorf("insert agent %d: %w", a.ID(), err)
		}
	}

	return tx.Commit()
}

// SaveMeta stores a key-value pair in store metadata.
func (db *DB) SaveMeta(key, value string) error {
	_, err := db.conn.Exec(
		"INSERT OR REPLACE INTO store_meta (key, value) VALUES (?, ?)",
		key, value,
	)
	return err
}

// GetMeta retrieves a metadata value.
func (db *DB) GetMeta(key string) (string, error) {
	var value string
	err := db.conn.Get(&value, "SELECT value FROM store_meta WHERE key = ?", key)
	return value, err
}

// SaveRun performs a full save of a finished run.
func (db *DB) SaveRun(run *Run, cfg any, series []engine.Summary, state *engine.GameState, withAgents bool) error {
	slog.Info("saving run", "experiment", run.Experiment, "run", run.RunIndex, "steps", len(series))

	if err := db.CreateRun(run, cfg); err != nil {
		return err
	}
	if err := db.SaveSummaries(run.ID, series); err != nil {
		return fmt.Errorf("save summaries: %w", err)
	}
	if err := db.SaveEvents(run.ID, state.Events); err != nil {
		return fmt.Errorf("save events: %w", err)
	}
	if withAgents {
		if err := db.SaveAgents(run.ID, state); err != nil {
			return fmt.Errorf("save agents: %w", err)
		}
	}
	if err := db.SaveMeta("last_run", run.ID); err != nil {
		return fmt.Errorf("save meta: %w", err)
	}
	return nil
}

// Runs returns stored runs, newest first. An empty experiment matches all.
func (db *DB) Runs(experiment string) ([]Run, error) {
	var runs []Run
	var err error
	if experiment == "" {
		err = db.conn.Select(&runs, "SELECT * FROM runs ORDER BY created_at DESC, experiment, run_index")
	} else {
		err = db.conn.Select(&runs, "SELECT * FROM runs WHERE experiment = ? ORDER BY created_at DESC, run_index", experiment)
	}
	return runs, err
}

// RunSummaries returns the stored series of a run in time order.
func (db *DB) RunSummaries(runID string) ([]engine.Summary, error) {
	var series []engine.Summary
	err := db.conn.Select(&series,
		`SELECT time, agents, savers, saver_share, total_score, mean_score, gini, nodes, edges
		 FROM summaries WHERE run_id = ? ORDER BY time`,
		runID,
	)
	return series, err
}

// RunAgents returns the stored agent snapshot of a run.
func (db *DB) RunAgents(runID string) ([]AgentRow, error) {
	var rows []AgentRow
	err := db.conn.Select(&rows, "SELECT * FROM agents WHERE run_id = ? ORDER BY agent_id", runID)
	return rows, err
}

// RecentEvents returns the most recent N events of a run.
func (db *DB) RecentEvents(runID string, limit int) ([]engine.Event, error) {
	var events []engine.Event
	err := db.conn.Select(&events,
		"SELECT tick, description, category FROM events WHERE run_id = ? ORDER BY id DESC LIMIT ?",
		runID, limit,
	)
	return events, err
}
