// Package store keeps the history of test results in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/NodePath81/fbspeed/internal/result"
)

var ErrNotFound = errors.New("result not found")

// Kind tells scheduled runs apart from ones started by hand.
type Kind string

const (
	KindAuto   Kind = "auto"
	KindCustom Kind = "custom"
)

const (
	defaultListLimit = 10
	maxStatsDays     = 30
)

const schema = `
CREATE TABLE IF NOT EXISTS speedtests (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id     TEXT    NOT NULL,
	mode       TEXT    NOT NULL,
	type       TEXT    NOT NULL,
	interface  TEXT    NOT NULL DEFAULT '',
	ping       INTEGER NOT NULL DEFAULT 0,
	jitter     REAL,
	download   REAL    NOT NULL DEFAULT 0,
	upload     REAL    NOT NULL DEFAULT 0,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	server_id  TEXT    NOT NULL DEFAULT '',
	result_id  TEXT    NOT NULL DEFAULT '',
	error      TEXT    NOT NULL DEFAULT '',
	created    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS speedtests_created ON speedtests (created);
`

const columns = `id, run_id, mode, type, interface, ping, jitter, download, upload, elapsed_ms, server_id, result_id, error, created`

// Record is one stored test run.
type Record struct {
	ID        int64       `json:"id"`
	RunID     string      `json:"run_id"`
	Mode      result.Mode `json:"mode"`
	Type      Kind        `json:"type"`
	Interface string      `json:"interface"`
	Ping      int         `json:"ping"`
	Jitter    *float64    `json:"jitter,omitempty"`
	Download  float64     `json:"download"`
	Upload    float64     `json:"upload"`
	ElapsedMs int64       `json:"elapsed_ms"`
	ServerID  string      `json:"server_id,omitempty"`
	ResultID  string      `json:"result_id,omitempty"`
	Error     string      `json:"error,omitempty"`
	Created   time.Time   `json:"created"`
}

// Failed reports whether the run ended with an error.
func (r Record) Failed() bool {
	return r.Error != ""
}

// FromResult converts an engine result into a storable record.
func FromResult(runID string, mode result.Mode, kind Kind, iface string, res result.TestResult) Record {
	rec := Record{
		RunID:     runID,
		Mode:      mode,
		Type:      kind,
		Interface: iface,
		Ping:      res.Ping,
		Jitter:    res.Jitter,
		ElapsedMs: res.Elapsed,
		ServerID:  res.ServerID,
		ResultID:  res.ResultID,
		Error:     res.Error,
	}
	rec.Download, _ = strconv.ParseFloat(res.Download, 64)
	rec.Upload, _ = strconv.ParseFloat(res.Upload, 64)
	return rec
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// sqlite allows one writer; a single connection also keeps ":memory:"
	// databases alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate store %s: %w", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func dsn(path string) string {
	if path == ":memory:" {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Insert stores rec and returns its id. A zero Created is set to now.
func (s *Store) Insert(ctx context.Context, rec Record) (int64, error) {
	if rec.Created.IsZero() {
		rec.Created = s.now()
	}
	var jitter sql.NullFloat64
	if rec.Jitter != nil {
		jitter = sql.NullFloat64{Float64: *rec.Jitter, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO speedtests (run_id, mode, type, interface, ping, jitter, download, upload, elapsed_ms, server_id, result_id, error, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, string(rec.Mode), string(rec.Type), rec.Interface, rec.Ping, jitter,
		rec.Download, rec.Upload, rec.ElapsedMs, rec.ServerID, rec.ResultID, rec.Error,
		rec.Created.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert result: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) Get(ctx context.Context, id int64) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM speedtests WHERE id = ?`, id)
	return scanOne(row)
}

// Latest returns the most recent record.
func (s *Store) Latest(ctx context.Context) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM speedtests ORDER BY created DESC, id DESC LIMIT 1`)
	return scanOne(row)
}

// List returns up to limit records newest first. A positive afterID pages
// past it, returning only older ids.
func (s *Store) List(ctx context.Context, afterID int64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var (
		rows *sql.Rows
		err  error
	)
	if afterID > 0 {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+columns+` FROM speedtests WHERE id < ? ORDER BY created DESC, id DESC LIMIT ?`, afterID, limit)
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+columns+` FROM speedtests ORDER BY created DESC, id DESC LIMIT ?`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	return scanAll(rows)
}

// Delete removes one record.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM speedtests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete result %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteOlderThan removes records created at or before now-age and returns
// how many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	cutoff := s.now().Add(-age).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM speedtests WHERE created <= ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old results: %w", err)
	}
	return res.RowsAffected()
}

// since returns records created after now minus the given number of days.
func (s *Store) since(ctx context.Context, days int) ([]Record, error) {
	cutoff := s.now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+columns+` FROM speedtests WHERE created > ? ORDER BY created DESC, id DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	return scanAll(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec     Record
		mode    string
		kind    string
		jitter  sql.NullFloat64
		created int64
	)
	err := sc.Scan(&rec.ID, &rec.RunID, &mode, &kind, &rec.Interface, &rec.Ping, &jitter,
		&rec.Download, &rec.Upload, &rec.ElapsedMs, &rec.ServerID, &rec.ResultID, &rec.Error, &created)
	if err != nil {
		return Record{}, err
	}
	rec.Mode = result.Mode(mode)
	rec.Type = Kind(kind)
	if jitter.Valid {
		j := jitter.Float64
		rec.Jitter = &j
	}
	rec.Created = time.UnixMilli(created).UTC()
	return rec, nil
}

func scanOne(row *sql.Row) (Record, error) {
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("read result: %w", err)
	}
	return rec, nil
}

func scanAll(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("read result: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
