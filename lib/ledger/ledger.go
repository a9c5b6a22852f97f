// Package ledger keeps an append-only history of triage runs. It never
// stores credentials, only what was processed and how it went.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	_ "github.com/tursodatabase/libsql-client-go/libsql"
	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var Schema string

var tracer = otel.Tracer("lib/ledger")

type Config struct {
	// File is a local sqlite database.
	File string `json:"file"`
	// Url is a remote libsql database, it wins over File.
	Url       string `json:"url"`
	AuthToken string `json:"auth_token"`
}

func (c Config) Enabled() bool {
	return c.File != "" || c.Url != ""
}

type Status string

const (
	STATUS_OK            Status = "ok"
	STATUS_REPORT_FAILED Status = "report_failed"
	STATUS_FAILED        Status = "failed"
)

type SourceResult struct {
	Source   string
	Found    bool
	Attempts int
	Error    string
}

type IndexResult struct {
	Protocol string
	Index    string
	Dir      string
	Report   string
	Status   Status
	Error    string
	Sources  []SourceResult
}

type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Indices    []IndexResult
}

// Failed counts the indices without a report.
func (r Run) Failed() int {
	n := 0
	for _, i := range r.Indices {
		if i.Status != STATUS_OK {
			n++
		}
	}
	return n
}

type Ledger struct {
	db *sql.DB
}

func openFile(path string) (*sql.DB, error) {
	if path != ":memory:" {
		err := os.MkdirAll(filepath.Dir(path), 0755)
		if err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// sqlite only tolerates a single writer, see
	// https://stackoverflow.com/questions/35804884/sqlite-concurrent-writing-performance
	db.SetMaxOpenConns(1)
	if path != ":memory:" {
		_, err = db.Exec("PRAGMA journal_mode=WAL")
		if err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}

func openRemote(url, authToken string) (*sql.DB, error) {
	dsn := url
	if authToken != "" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "authToken=" + authToken
	}
	return sql.Open("libsql", dsn)
}

// Open connects to the configured database and creates the tables when
// they are missing.
func Open(ctx context.Context, config Config) (Ledger, error) {
	var (
		db  *sql.DB
		err error
	)
	switch {
	case config.Url != "":
		db, err = openRemote(config.Url, config.AuthToken)
	case config.File != "":
		db, err = openFile(config.File)
	default:
		return Ledger{}, fmt.Errorf("ledger: neither a file nor a url was specified")
	}
	if err != nil {
		return Ledger{}, fmt.Errorf("open ledger: %w", err)
	}

	ledger, err := New(ctx, db)
	if err != nil {
		db.Close()
		return Ledger{}, err
	}
	return ledger, nil
}

// New wraps an already open database.
func New(ctx context.Context, db *sql.DB) (Ledger, error) {
	_, err := db.ExecContext(ctx, Schema)
	if err != nil {
		return Ledger{}, fmt.Errorf("create ledger schema: %w", err)
	}
	return Ledger{db: db}, nil
}

func (l Ledger) Close() error {
	return l.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// RecordRun stores a finished run along with every index and source
// outcome in a single transaction.
func (l Ledger) RecordRun(ctx context.Context, run Run) error {
	ctx, span := tracer.Start(ctx, "RecordRun")
	defer span.End()
	span.SetAttributes(
		attribute.String("run_id", run.ID),
		attribute.Int("indices", len(run.Indices)),
	)

	err := l.recordRun(ctx, run)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (l Ledger) recordRun(ctx context.Context, run Run) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(
		ctx,
		"insert into runs(id, started_at, finished_at, cancelled) values (?, ?, ?, ?)",
		run.ID, run.StartedAt.Unix(), run.FinishedAt.Unix(), boolInt(run.Cancelled),
	)
	if err != nil {
		return err
	}

	for _, index := range run.Indices {
		_, err = tx.ExecContext(
			ctx,
			`insert into index_results(run_id, protocol, cadastral_index, dir, report, status, error)
			values (?, ?, ?, ?, ?, ?, ?)`,
			run.ID, index.Protocol, index.Index, index.Dir, index.Report, string(index.Status), index.Error,
		)
		if err != nil {
			return err
		}

		for _, source := range index.Sources {
			_, err = tx.ExecContext(
				ctx,
				`insert into source_results(run_id, cadastral_index, source, found, attempts, error)
				values (?, ?, ?, ?, ?, ?)`,
				run.ID, index.Index, source.Source, boolInt(source.Found), source.Attempts, source.Error,
			)
			if err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

// RunInfo is a run without its index details.
type RunInfo struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Cancelled  bool
	Indices    int
	Failed     int
}

// RecentRuns lists the last n runs, most recent first.
func (l Ledger) RecentRuns(ctx context.Context, n int) ([]RunInfo, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select r.id, r.started_at, r.finished_at, r.cancelled,
			count(i.cadastral_index),
			coalesce(sum(case when i.status != ? then 1 else 0 end), 0)
		from runs r
		left join index_results i on i.run_id = r.id
		group by r.id
		order by r.started_at desc, r.id desc
		limit ?`,
		string(STATUS_OK), n,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info              RunInfo
			started, finished int64
			cancelled         int
		)
		err := rows.Scan(&info.ID, &started, &finished, &cancelled, &info.Indices, &info.Failed)
		if err != nil {
			return nil, err
		}
		info.StartedAt = time.Unix(started, 0)
		info.FinishedAt = time.Unix(finished, 0)
		info.Cancelled = cancelled != 0
		out = append(out, info)
	}
	return out, rows.Err()
}

// IndexResults returns the indices of a run in the order they were
// processed, each with its source outcomes.
func (l Ledger) IndexResults(ctx context.Context, runID string) ([]IndexResult, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select protocol, cadastral_index, dir, report, status, error
		from index_results where run_id = ? order by rowid`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query index results: %w", err)
	}
	defer rows.Close()

	var out []IndexResult
	for rows.Next() {
		var (
			result IndexResult
			status string
		)
		err := rows.Scan(&result.Protocol, &result.Index, &result.Dir, &result.Report, &status, &result.Error)
		if err != nil {
			return nil, err
		}
		result.Status = Status(status)
		out = append(out, result)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	for i := range out {
		sources, err := l.sourceResults(ctx, runID, out[i].Index)
		if err != nil {
			return nil, err
		}
		out[i].Sources = sources
	}
	return out, nil
}

func (l Ledger) sourceResults(ctx context.Context, runID, index string) ([]SourceResult, error) {
	rows, err := l.db.QueryContext(
		ctx,
		`select source, found, attempts, error from source_results
		where run_id = ? and cadastral_index = ? order by rowid`,
		runID, index,
	)
	if err != nil {
		return nil, fmt.Errorf("query source results: %w", err)
	}
	defer rows.Close()

	var out []SourceResult
	for rows.Next() {
		var (
			result SourceResult
			found  int
		)
		err := rows.Scan(&result.Source, &found, &result.Attempts, &result.Error)
		if err != nil {
			return nil, err
		}
		result.Found = found != 0
		out = append(out, result)
	}
	return out, rows.Err()
}
