// Package runs records aggregation runs in the ledger database.
package runs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/solatis/derivekeeper/internal/types"
)

// Kind is the operation a run performed.
type Kind string

const (
	KindAggregate Kind = "aggregate"
	KindCombine   Kind = "combine"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// ErrNotFound indicates no run with the requested ID.
var ErrNotFound = errors.New("run not found")

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 50

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Run is one ledger row.
type Run struct {
	ID               types.RunID    `db:"run_id"`
	Kind             Kind           `db:"kind"`
	Status           Status         `db:"status"`
	StartedAtMs      int64          `db:"started_at"`
	DocumentCount    int            `db:"document_count"`
	RuleCount        int            `db:"rule_count"`
	ProcessingMs     int64          `db:"processing_ms"`
	RulesFingerprint string         `db:"rules_fingerprint"`
	Result           sql.NullString `db:"result"`
	ErrorKind        string         `db:"error_kind"`
	ErrorMessage     string         `db:"error_message"`
}

// StartedAt returns the run start time in UTC.
func (r Run) StartedAt() time.Time {
	return time.UnixMilli(r.StartedAtMs).UTC()
}

// DecodeResult unmarshals the stored result, or returns nil when none was stored.
func (r Run) DecodeResult() (any, error) {
	if !r.Result.Valid {
		return nil, nil
	}
	var out any
	if err := json.Unmarshal([]byte(r.Result.String), &out); err != nil {
		return nil, fmt.Errorf("failed to decode result of run %s: %w", r.ID, err)
	}
	return out, nil
}

// StatusCount is one row of Counts.
type StatusCount struct {
	Status Status `db:"status"`
	Total  int64  `db:"total"`
}

// Queries defines the database operations the ledger needs.
// Implemented by *db.Queries.
type Queries interface {
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
	Get(ctx context.Context, name string, dest any, args ...any) error
	Select(ctx context.Context, name string, dest any, args ...any) error
}

// Recorder persists runs. The API and CLI depend on this, not on Store.
type Recorder interface {
	Record(ctx context.Context, run *Run) error
}

// Store is the SQL-backed run ledger.
type Store struct {
	queries Queries
	now     func() time.Time
}

// NewStore creates a Store over named queries.
func NewStore(queries Queries) *Store {
	return &Store{queries: queries, now: time.Now}
}

// Record inserts run, assigning an ID and start time when unset.
func (s *Store) Record(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = types.NewRunID()
	}
	if run.StartedAtMs == 0 {
		run.StartedAtMs = s.now().UnixMilli()
	}

	_, err := s.queries.Exec(ctx, "insert-run",
		string(run.ID), string(run.Kind), string(run.Status), run.StartedAtMs,
		run.DocumentCount, run.RuleCount, run.ProcessingMs, run.RulesFingerprint,
		run.Result, run.ErrorKind, run.ErrorMessage)
	if err != nil {
		return fmt.Errorf("failed to record run %s: %w", run.ID, err)
	}
	return nil
}

// Get returns the run with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id types.RunID) (*Run, error) {
	var run Run
	err := s.queries.Get(ctx, "get-run", &run, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}
	return &run, nil
}

// List returns the most recent runs, newest first. An empty status lists all.
func (s *Store) List(ctx context.Context, status Status, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	var runs []Run
	var err error
	if status == "" {
		err = s.queries.Select(ctx, "list-runs", &runs, limit)
	} else {
		err = s.queries.Select(ctx, "list-runs-by-status", &runs, string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Counts returns the number of runs per status.
func (s *Store) Counts(ctx context.Context) ([]StatusCount, error) {
	var counts []StatusCount
	if err := s.queries.Select(ctx, "count-runs-by-status", &counts); err != nil {
		return nil, fmt.Errorf("failed to count runs: %w", err)
	}
	return counts, nil
}

// Prune deletes runs started before cutoff and returns how many were removed.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.queries.Exec(ctx, "delete-runs-before", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return res.RowsAffected()
}

// EncodeResult serializes a run result for storage.
func EncodeResult(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode run result: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// StatusFor classifies an aggregation error: nil succeeded, admission
// rejections rejected, anything else failed.
func StatusFor(err error) Status {
	switch {
	case err == nil:
		return StatusSucceeded
	case types.IsRejection(err):
		return StatusRejected
	default:
		return StatusFailed
	}
}

// ErrorKindFor returns the aggregation failure kind of err, or "" when err is
// not an aggregation error.
func ErrorKindFor(err error) string {
	var aggErr *types.AggregationError
	if errors.As(err, &aggErr) {
		return string(aggErr.Kind)
	}
	if code := types.StrategyErrorCodeOf(err); code != "" {
		return string(code)
	}
	return ""
}
