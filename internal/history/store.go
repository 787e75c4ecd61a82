package history

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is the current journal schema version.
const schemaVersion = 1

// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// Outcome values recorded for each decision.
const (
	OutcomeResolved     = "resolved"
	OutcomeCached       = "cached"
	OutcomeKnownAbsent  = "known_absent"
	OutcomeNotInBackend = "not_in_backend"
	OutcomeNotFound     = "not_found"
)

// Decision is one journaled resolution.
type Decision struct {
	ID         int64
	RunID      string
	Circuit    string
	OSMID      int64
	OSMType    string
	WikidataID string
	Method     string
	Candidates int
	Comment    string
	Outcome    string
	CreatedAt  time.Time
}

// Store is an append-only SQLite journal of resolution decisions.
type Store struct {
	db   *sql.DB
	path string
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

// Open initializes or connects to the journal database at path.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: database path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	var tableExists int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	).Scan(&tableExists)
	if err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if tableExists == 0 {
		return s.createSchema(ctx)
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("%w: database has version %d, expected %d (delete %s to start a new journal)",
			ErrSchemaMismatch, version, schemaVersion, s.path)
	}
	return nil
}

func (s *Store) createSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

// Append records a decision and returns its row ID. A zero CreatedAt is
// stamped with the current time.
func (s *Store) Append(ctx context.Context, d Decision) (int64, error) {
	ctx = ensureContext(ctx)
	if strings.TrimSpace(d.Circuit) == "" {
		return 0, errors.New("history: circuit name required")
	}
	if strings.TrimSpace(d.Outcome) == "" {
		return 0, errors.New("history: outcome required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	var id int64
	err := retryOnBusy(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO decisions (run_id, circuit, osm_id, osm_type, wikidata_id, method, candidates, comment, outcome, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			d.RunID, d.Circuit, nullInt(d.OSMID), nullString(d.OSMType), nullString(d.WikidataID),
			nullString(d.Method), d.Candidates, nullString(d.Comment), d.Outcome,
			d.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("append decision: %w", err)
	}
	return id, nil
}

// Recent returns the newest decisions across all circuits, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Decision, error) {
	return s.query(ctx, "SELECT "+decisionColumns+" FROM decisions ORDER BY id DESC LIMIT ?", normalizeLimit(limit))
}

// ForCircuit returns the newest decisions for one circuit, newest first.
func (s *Store) ForCircuit(ctx context.Context, circuit string, limit int) ([]Decision, error) {
	return s.query(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE circuit = ? ORDER BY id DESC LIMIT ?",
		circuit, normalizeLimit(limit))
}

// ForRun returns every decision made in one run, in insertion order.
func (s *Store) ForRun(ctx context.Context, runID string) ([]Decision, error) {
	return s.query(ctx, "SELECT "+decisionColumns+" FROM decisions WHERE run_id = ? ORDER BY id", runID)
}

const decisionColumns = "id, run_id, circuit, osm_id, osm_type, wikidata_id, method, candidates, comment, outcome, created_at"

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Decision, error) {
	ctx = ensureContext(ctx)
	var decisions []Decision
	err := retryOnBusy(ctx, func() error {
		decisions = nil
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			d, err := scanDecision(rows)
			if err != nil {
				return err
			}
			decisions = append(decisions, d)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	return decisions, nil
}

func scanDecision(rows *sql.Rows) (Decision, error) {
	var (
		d                                    Decision
		osmID                                sql.NullInt64
		osmType, wikidataID, method, comment sql.NullString
		createdAt                            string
	)
	if err := rows.Scan(&d.ID, &d.RunID, &d.Circuit, &osmID, &osmType, &wikidataID, &method,
		&d.Candidates, &comment, &d.Outcome, &createdAt); err != nil {
		return Decision{}, err
	}
	d.OSMID = osmID.Int64
	d.OSMType = osmType.String
	d.WikidataID = wikidataID.String
	d.Method = method.String
	d.Comment = comment.String
	if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
		d.CreatedAt = ts
	}
	return d, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	return limit
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

func nullInt(value int64) sql.NullInt64 {
	return sql.NullInt64{Int64: value, Valid: value != 0}
}
