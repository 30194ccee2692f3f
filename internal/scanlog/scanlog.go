// Package scanlog keeps a history of barcode lookups in SQLite.
package scanlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/purescanapp/purescan-server/internal/logger"
)

//go:embed schema.sql
var schemaSQL string

// Status is the result of a lookup as returned to the caller.
type Status string

// Lookup statuses.
const (
	StatusExisting Status = "existing"
	StatusNew      Status = "new"
	StatusNotFound Status = "not_found"
	StatusMissing  Status = "missing"
	StatusInvalid  Status = "invalid"
	StatusFailed   Status = "failed"
)

// Entry is one recorded lookup.
type Entry struct {
	At         time.Time     `json:"at"`
	Raw        string        `json:"raw"`
	Barcode    string        `json:"barcode,omitempty"`
	Status     Status        `json:"status"`
	ProductID  string        `json:"productId,omitempty"`
	RemoteAddr string        `json:"remoteAddr,omitempty"`
	Duration   time.Duration `json:"durationNs"`
	ID         int64         `json:"id"`
}

// Log is the SQLite-backed lookup history.
type Log struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open creates or opens the lookup history at path.
// It configures WAL mode and runs the schema.
func Open(path string, log *slog.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec pragma %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("exec schema: %w", err)
	}

	return &Log{db: db, logger: logger.OrDiscard(log), now: time.Now}, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

// Ping checks the database connection.
func (l *Log) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

// Record appends e to the history. A zero At is set to now.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.At.IsZero() {
		e.At = l.now()
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO lookups (raw, barcode, status, product_id, remote_addr, duration_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Raw,
		nullString(e.Barcode),
		string(e.Status),
		nullString(e.ProductID),
		nullString(e.RemoteAddr),
		e.Duration.Microseconds(),
		formatTime(e.At),
	)
	if err != nil {
		return fmt.Errorf("record lookup: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, raw, barcode, status, product_id, remote_addr, duration_us, created_at
		FROM lookups ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query lookups: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountByStatus returns how many lookups ended in each status.
func (l *Log) CountByStatus(ctx context.Context) (map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM lookups GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count lookups: %w", err)
	}
	defer rows.Close()

	out := make(map[Status]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[Status(status)] = n
	}
	return out, rows.Err()
}

// Prune deletes entries recorded before cutoff and returns how many were removed.
func (l *Log) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM lookups WHERE created_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("prune lookups: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		l.logger.Debug("pruned lookup history", "removed", n)
	}
	return n, nil
}

func scanEntry(scanner interface{ Scan(dest ...any) error }) (Entry, error) {
	var (
		e          Entry
		status     string
		code       sql.NullString
		productID  sql.NullString
		remoteAddr sql.NullString
		durationUs int64
		createdAt  string
	)
	if err := scanner.Scan(&e.ID, &e.Raw, &code, &status, &productID, &remoteAddr, &durationUs, &createdAt); err != nil {
		return Entry{}, err
	}

	at, err := parseTime(createdAt)
	if err != nil {
		return Entry{}, err
	}

	e.At = at
	e.Status = Status(status)
	e.Barcode = code.String
	e.ProductID = productID.String
	e.RemoteAddr = remoteAddr.String
	e.Duration = time.Duration(durationUs) * time.Microsecond
	return e, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// nullString returns a sql.NullString from a possibly empty string.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
