package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"gridarena.ai/internal/sim/genome"
	"gridarena.ai/internal/sim/metrics"
	"gridarena.ai/internal/sim/round"
	"gridarena.ai/internal/sim/tuning"
)

// SQLiteIndex is a queryable secondary index of sessions, rounds and their
// evolution summaries. The JSONL round log stays the source of truth.
type SQLiteIndex struct {
	round.NopSink

	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	mu       sync.Mutex
	sessions map[string]genome.Genome

	dropRound   atomic.Uint64
	dropSession atomic.Uint64
}

type reqKind int

const (
	reqRound reqKind = iota + 1
	reqSessionEnd
)

type req struct {
	kind reqKind

	round   round.RoundEnd
	report  metrics.Report
	genome  genome.Genome
	endedAt string
}

type Stats struct {
	DropRoundTotal   uint64 `json:"drop_round_total"`
	DropSessionTotal uint64 `json:"drop_session_total"`
	QueueDepth       int    `json:"queue_depth"`
	QueueCapacity    int    `json:"queue_capacity"`
}

type EvolutionRow struct {
	ID             int64           `json:"id"`
	CreatedAt      string          `json:"created_at"`
	SessionID      string          `json:"session_id"`
	GameMode       string          `json:"game_mode"`
	WinRate        float64         `json:"win_rate"`
	AgentSpeed     float64         `json:"agent_speed"`
	EnemySpeed     float64         `json:"enemy_speed"`
	ObstaclesCount int             `json:"obstacles_count"`
	TimeLimit      float64         `json:"time_limit"`
	Metrics        json.RawMessage `json:"metrics"`
	Genome         json.RawMessage `json:"genome"`
	Report         string          `json:"report"`
}

type RoundRow struct {
	SessionID string  `json:"session_id"`
	Round     int     `json:"round"`
	Seed      int64   `json:"seed"`
	Digest    string  `json:"digest"`
	Cause     string  `json:"cause"`
	Elapsed   float64 `json:"elapsed"`
	Collected int     `json:"collected"`
	Ticks     int     `json:"ticks"`
	Solvable  bool    `json:"solvable"`
	Attempts  int     `json:"attempts"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:       db,
		ch:       make(chan req, 4096),
		sessions: map[string]genome.Genome{},
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			seed INTEGER NOT NULL,
			genome_json TEXT NOT NULL,
			tuning_json TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			report_json TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS rounds (
			session_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			seed INTEGER NOT NULL,
			digest TEXT NOT NULL,
			cause TEXT NOT NULL,
			elapsed REAL NOT NULL,
			collected INTEGER NOT NULL,
			ticks INTEGER NOT NULL,
			solvable INTEGER NOT NULL,
			attempts INTEGER NOT NULL,
			PRIMARY KEY (session_id, round)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_cause ON rounds(cause);`,
		`CREATE TABLE IF NOT EXISTS evolution (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at TEXT NOT NULL,
			session_id TEXT NOT NULL,
			game_mode TEXT NOT NULL,
			win_rate REAL NOT NULL,
			agent_speed REAL NOT NULL,
			enemy_speed REAL NOT NULL,
			obstacles_count INTEGER NOT NULL,
			time_limit REAL NOT NULL,
			metrics_json TEXT NOT NULL,
			genome_json TEXT NOT NULL,
			report TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evolution_mode ON evolution(game_mode, id);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropRoundTotal:   s.dropRound.Load(),
		DropSessionTotal: s.dropSession.Load(),
		QueueDepth:       len(s.ch),
		QueueCapacity:    cap(s.ch),
	}
}

// BeginSession registers a session synchronously so later rounds have a parent row.
func (s *SQLiteIndex) BeginSession(ctx context.Context, id string, g genome.Genome, tu tuning.Tuning) error {
	if s == nil {
		return nil
	}
	if id == "" {
		return fmt.Errorf("empty session id")
	}
	gb, err := json.Marshal(g)
	if err != nil {
		return err
	}
	tb, err := json.Marshal(tu)
	if err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions(id,mode,seed,genome_json,tuning_json,started_at) VALUES(?,?,?,?,?,?)`,
		id, g.Mode.String(), g.Seed, string(gb), string(tb), now,
	); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	s.mu.Lock()
	s.sessions[id] = g
	s.mu.Unlock()
	return nil
}

func (s *SQLiteIndex) RoundEnded(e round.RoundEnd) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{kind: reqRound, round: e}:
	default:
		// Drop if the indexer falls behind; the round log remains the source of truth.
		s.dropRound.Add(1)
	}
}

func (s *SQLiteIndex) SessionEnded(r metrics.Report) {
	if s == nil || s.closed.Load() {
		return
	}
	s.mu.Lock()
	g, ok := s.sessions[r.SessionID]
	delete(s.sessions, r.SessionID)
	s.mu.Unlock()
	if !ok {
		g = genome.Defaults()
		g.Normalize()
	}
	select {
	case s.ch <- req{kind: reqSessionEnd, report: r, genome: g, endedAt: time.Now().UTC().Format(time.RFC3339Nano)}:
	default:
		s.dropSession.Add(1)
	}
}

// ListEvolution returns the most recent evolution rows, newest first.
func (s *SQLiteIndex) ListEvolution(ctx context.Context, limit int) ([]EvolutionRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,created_at,session_id,game_mode,win_rate,agent_speed,enemy_speed,obstacles_count,time_limit,metrics_json,genome_json,report
		 FROM evolution ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EvolutionRow
	for rows.Next() {
		var (
			r      EvolutionRow
			mj, gj string
		)
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.SessionID, &r.GameMode, &r.WinRate, &r.AgentSpeed, &r.EnemySpeed,
			&r.ObstaclesCount, &r.TimeLimit, &mj, &gj, &r.Report); err != nil {
			return nil, err
		}
		r.Metrics = json.RawMessage(mj)
		r.Genome = json.RawMessage(gj)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) ListRounds(ctx context.Context, sessionID string) ([]RoundRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,round,seed,digest,cause,elapsed,collected,ticks,solvable,attempts
		 FROM rounds WHERE session_id=? ORDER BY round`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RoundRow
	for rows.Next() {
		var r RoundRow
		var solvable int
		if err := rows.Scan(&r.SessionID, &r.Round, &r.Seed, &r.Digest, &r.Cause, &r.Elapsed, &r.Collected,
			&r.Ticks, &solvable, &r.Attempts); err != nil {
			return nil, err
		}
		r.Solvable = solvable != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertRound, _ := s.db.Prepare(`INSERT OR REPLACE INTO rounds(session_id,round,seed,digest,cause,elapsed,collected,ticks,solvable,attempts) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	endSession, _ := s.db.Prepare(`UPDATE sessions SET ended_at=?, report_json=? WHERE id=?`)
	insertEvolution, _ := s.db.Prepare(`INSERT INTO evolution(created_at,session_id,game_mode,win_rate,agent_speed,enemy_speed,obstacles_count,time_limit,metrics_json,genome_json,report) VALUES(?,?,?,?,?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertRound, endSession, insertEvolution} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 200
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	flushIfNeeded := func() {
		if tx == nil {
			return
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqRound:
			e := r.round
			if insertRound == nil {
				continue
			}
			solvable := 0
			if e.Solvable {
				solvable = 1
			}
			if _, err := tx.Stmt(insertRound).Exec(
				e.SessionID,
				e.Round,
				e.Seed,
				e.Digest,
				e.Outcome.Cause.String(),
				e.Outcome.Elapsed,
				e.Outcome.Collected,
				e.Ticks,
				solvable,
				e.Attempts,
			); err != nil {
				rollback()
				continue
			}
			opCount++

		case reqSessionEnd:
			rep := r.report
			mj, _ := json.Marshal(rep)
			gj, _ := json.Marshal(r.genome)
			if endSession != nil {
				if _, err := tx.Stmt(endSession).Exec(r.endedAt, string(mj), rep.SessionID); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			if insertEvolution != nil {
				g := r.genome
				if _, err := tx.Stmt(insertEvolution).Exec(
					r.endedAt,
					rep.SessionID,
					g.Mode.String(),
					rep.WinRate,
					g.Agent.Speed,
					g.Rules.EnemySpeed,
					g.Obstacles.Count,
					g.Rules.TimeLimit,
					string(mj),
					string(gj),
					rep.Summary(),
				); err != nil {
					rollback()
					continue
				}
				opCount++
			}
			// Session ends are rare; make them visible to readers right away.
			commit()
		}
		flushIfNeeded()
	}

	commit()
}
