package export

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"streamcheck/internal/model"
	"streamcheck/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// History persists per-run channel results in SQLite so speed trends can
// be queried across runs.
type History struct {
	db  *sql.DB
	log logx.Logger
}

func OpenHistory(path string, log logx.Logger) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA busy_timeout = 5000")
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	h := &History{db: db, log: log}
	if err := h.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return h, nil
}

func (h *History) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = h.db.ExecContext(ctx, string(b))
	return err
}

func (h *History) Close() error {
	if h == nil || h.db == nil {
		return nil
	}
	return h.db.Close()
}

// RecordRun stores one run header plus a result row per channel, in a
// single transaction.
func (h *History) RecordRun(ctx context.Context, startedAt time.Time, elapsed time.Duration, channels []model.Channel) error {
	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	online := 0
	for _, ch := range channels {
		if ch.Status == model.StatusOnline {
			online++
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO runs(started_at, total, online, elapsed_sec) VALUES(?,?,?,?)`,
		startedAt.Format(time.RFC3339), len(channels), online, elapsed.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO results(run_id, name, url, category, status, speed_kbs, response_ms)
		 VALUES(?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ch := range channels {
		if _, err := stmt.ExecContext(ctx,
			runID, ch.Name, ch.URL, ch.Category, string(ch.Status),
			ch.DownloadSpeed, ch.ResponseTime,
		); err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	return tx.Commit()
}

// RunCount returns the number of recorded runs.
func (h *History) RunCount(ctx context.Context) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}

func (e *Exporter) writeHistory(channels []model.Channel, elapsed time.Duration) error {
	h, err := OpenHistory(e.cfg.HistoryPath, e.log)
	if err != nil {
		return err
	}
	defer h.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := h.RecordRun(ctx, time.Now(), elapsed, channels); err != nil {
		return err
	}
	e.log.Info("history recorded",
		logx.String("path", e.cfg.HistoryPath), logx.Int("channels", len(channels)))
	return nil
}
