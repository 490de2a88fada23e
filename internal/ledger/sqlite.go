package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kensa/internal/models"
)

// SQLite is a durable ledger stored next to the vector log.
type SQLite struct {
	db   *sql.DB
	opts options
}

// OpenSQLite opens or creates the ledger database at path.
// Parent directories are created if they do not exist.
func OpenSQLite(path string, opts ...Option) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// One connection serializes writers so AUTOINCREMENT never races on SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize ledger schema: %w", err)
	}
	return &SQLite{db: db, opts: buildOptions(opts)}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ledger (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		ts INTEGER NOT NULL,
		cache_key TEXT NOT NULL,
		model_id TEXT NOT NULL,
		outcome TEXT NOT NULL,
		mode TEXT NOT NULL,
		network_disallowed INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_run ON ledger(run_id, seq);
	`
	_, err := db.Exec(schema)
	return err
}

// Append implements Ledger. The sequence number comes from SQLite.
func (s *SQLite) Append(ctx context.Context, r Record) (Record, error) {
	r.Time = s.opts.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ledger (run_id, ts, cache_key, model_id, outcome, mode, network_disallowed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Time.UnixNano(), r.Key, r.ModelID, string(r.Outcome), string(r.Mode), r.NetworkDisallowed,
	)
	if err != nil {
		return Record{}, fmt.Errorf("append ledger record: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return Record{}, err
	}
	r.Seq = seq
	return r, nil
}

// Records implements Ledger. An empty runID returns every record.
func (s *SQLite) Records(ctx context.Context, runID string) ([]Record, error) {
	b := sq.Select("seq", "run_id", "ts", "cache_key", "model_id", "outcome", "mode", "network_disallowed").
		From("ledger").
		OrderBy("seq")
	if runID != "" {
		b = b.Where(sq.Eq{"run_id": runID})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build ledger query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var ts int64
		var outcome, mode string
		if err := rows.Scan(&r.Seq, &r.RunID, &ts, &r.Key, &r.ModelID, &outcome, &mode, &r.NetworkDisallowed); err != nil {
			return nil, err
		}
		r.Time = time.Unix(0, ts).UTC()
		r.Outcome = Outcome(outcome)
		r.Mode = models.Mode(mode)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Summary implements Ledger.
func (s *SQLite) Summary(ctx context.Context, runID string) (Summary, error) {
	records, err := s.Records(ctx, runID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(runID, records), nil
}

// Close implements Ledger.
func (s *SQLite) Close() error {
	return s.db.Close()
}
