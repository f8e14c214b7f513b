// Package ledger keeps a queryable history of batch outcomes and score
// reports in a local SQLite database.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"harnesseval/internal/pipeline"
	"harnesseval/internal/score"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	db     *sql.DB
	mu     sync.Mutex
	dbPath string
}

// Open creates the database at path if needed.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	l := &Ledger{db: db, dbPath: path}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) initialize() error {
	outcomes := `
	CREATE TABLE IF NOT EXISTS outcomes (
		batch_id TEXT NOT NULL,
		target TEXT NOT NULL,
		participant TEXT NOT NULL,
		variant TEXT NOT NULL,
		state TEXT NOT NULL,
		stage TEXT,
		code TEXT,
		reason TEXT,
		output_path TEXT,
		fingerprint TEXT,
		compile_ms INTEGER DEFAULT 0,
		run_ms INTEGER DEFAULT 0,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (batch_id, target)
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_state ON outcomes(state);
	`

	scores := `
	CREATE TABLE IF NOT EXISTS scores (
		report_id TEXT NOT NULL,
		participant TEXT NOT NULL,
		variant TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		train_mean REAL,
		train_time_s REAL,
		eval REAL,
		eval_time_s REAL,
		eval_score REAL,
		recorded_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (report_id, participant, variant)
	);
	CREATE INDEX IF NOT EXISTS idx_scores_variant ON scores(variant);
	`

	for _, table := range []string{outcomes, scores} {
		if _, err := l.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// Path returns the database file location.
func (l *Ledger) Path() string { return l.dbPath }

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// RecordOutcomes stores every outcome of a batch in one transaction.
// Recording the same batch twice replaces its rows.
func (l *Ledger) RecordOutcomes(ctx context.Context, batchID string, outcomes []pipeline.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO outcomes
			(batch_id, target, participant, variant, state, stage, code, reason, output_path, fingerprint, compile_ms, run_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx,
			batchID, o.ID(), o.Participant, o.Variant, string(o.State), string(o.Stage),
			o.Code, o.Reason, o.OutputPath, o.Fingerprint,
			o.CompileDuration.Milliseconds(), o.RunDuration.Milliseconds(),
		); err != nil {
			return fmt.Errorf("insert outcome %s: %w", o.ID(), err)
		}
	}
	return tx.Commit()
}

// Outcomes returns the outcomes of a batch ordered by target.
func (l *Ledger) Outcomes(ctx context.Context, batchID string) ([]pipeline.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT participant, variant, state, stage, code, reason, output_path, fingerprint, compile_ms, run_ms
		FROM outcomes WHERE batch_id = ? ORDER BY target`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes: %w", err)
	}
	defer rows.Close()

	var out []pipeline.Outcome
	for rows.Next() {
		var (
			o                      pipeline.Outcome
			state, stage           string
			compileMs, runMs       int64
			code, reason, path, fp sql.NullString
		)
		if err := rows.Scan(&o.Participant, &o.Variant, &state, &stage, &code, &reason, &path, &fp, &compileMs, &runMs); err != nil {
			return nil, err
		}
		o.State = pipeline.TargetState(state)
		o.Stage = pipeline.Stage(stage)
		o.Code, o.Reason, o.OutputPath, o.Fingerprint = code.String, reason.String, path.String, fp.String
		o.CompileDuration = time.Duration(compileMs) * time.Millisecond
		o.RunDuration = time.Duration(runMs) * time.Millisecond
		out = append(out, o)
	}
	return out, rows.Err()
}

// FailureCounts returns, per variant, how many targets failed across every
// recorded batch.
func (l *Ledger) FailureCounts(ctx context.Context) (map[string]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT variant, COUNT(*) FROM outcomes WHERE state = ? GROUP BY variant`,
		string(pipeline.TargetFailed))
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var variant string
		var n int
		if err := rows.Scan(&variant, &n); err != nil {
			return nil, err
		}
		out[variant] = n
	}
	return out, rows.Err()
}

// RecordScores stores a score report. Undefined metrics are stored as NULL.
func (l *Ledger) RecordScores(ctx context.Context, reportID string, records []score.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO scores
			(report_id, participant, variant, status, reason, train_mean, train_time_s, eval, eval_time_s, eval_score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		evalScore := sql.NullFloat64{Float64: r.EvalScore.Value, Valid: r.EvalScore.Defined}
		if _, err := stmt.ExecContext(ctx,
			reportID, r.Participant, r.Variant, string(r.Status), r.Reason,
			nullable(r.TrainMean), r.TrainTime.Seconds(), nullable(r.Eval), r.EvalTime.Seconds(),
			evalScore,
		); err != nil {
			return fmt.Errorf("insert score %s/%s: %w", r.Participant, r.Variant, err)
		}
	}
	return tx.Commit()
}

// ScoreRow is one stored score.
type ScoreRow struct {
	Participant string
	Variant     string
	Status      score.Status
	Reason      string
	TrainMean   float64
	Eval        float64

	// EvalScore is NaN when the score was undefined.
	EvalScore float64
}

// Scores returns the rows of a report ordered by variant and participant.
func (l *Ledger) Scores(ctx context.Context, reportID string) ([]ScoreRow, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.QueryContext(ctx, `
		SELECT participant, variant, status, reason, train_mean, eval, eval_score
		FROM scores WHERE report_id = ? ORDER BY variant, participant`, reportID)
	if err != nil {
		return nil, fmt.Errorf("query scores: %w", err)
	}
	defer rows.Close()

	var out []ScoreRow
	for rows.Next() {
		var (
			r                          ScoreRow
			status                     string
			reason                     sql.NullString
			trainMean, eval, evalScore sql.NullFloat64
		)
		if err := rows.Scan(&r.Participant, &r.Variant, &status, &reason, &trainMean, &eval, &evalScore); err != nil {
			return nil, err
		}
		r.Status = score.Status(status)
		r.Reason = reason.String
		r.TrainMean = orNaN(trainMean)
		r.Eval = orNaN(eval)
		r.EvalScore = orNaN(evalScore)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullable(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v)}
}

func orNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
