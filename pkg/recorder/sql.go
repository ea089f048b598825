package recorder

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fluxorio/callcenter/pkg/db"
	"github.com/fluxorio/callcenter/pkg/task"
)

const createCallRecords = `CREATE TABLE IF NOT EXISTS call_records (
	run_id      TEXT NOT NULL,
	call_id     BIGINT NOT NULL,
	number      TEXT NOT NULL,
	status      TEXT NOT NULL,
	operator    INTEGER NOT NULL,
	accepted_at TIMESTAMP NOT NULL,
	answered_at TIMESTAMP NULL,
	finished_at TIMESTAMP NOT NULL,
	duration_ms BIGINT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, call_id)
)`

const insertCallRecord = `INSERT INTO call_records
	(run_id, call_id, number, status, operator, accepted_at, answered_at, finished_at, duration_ms, error)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// SQL stores call records in the call_records table.
// Call ids restart with the process, so every recorder tags its rows with a run id.
type SQL struct {
	pool    *db.Pool
	runID   string
	timeout time.Duration
}

// NewSQL creates the table if needed. timeout bounds each insert.
func NewSQL(ctx context.Context, pool *db.Pool, timeout time.Duration) (*SQL, error) {
	if err := pool.Migrate(ctx, createCallRecords); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &SQL{pool: pool, runID: uuid.NewString(), timeout: timeout}, nil
}

// RunID identifies the rows written by this recorder
func (s *SQL) RunID() string {
	return s.runID
}

func (s *SQL) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cdr := NewCDR(id, res)
	var answered sql.NullTime
	if cdr.AnsweredAt != nil {
		answered = sql.NullTime{Time: cdr.AnsweredAt.UTC(), Valid: true}
	}

	_, err := s.pool.Exec(ctx, insertCallRecord,
		s.runID,
		int64(cdr.CallID),
		cdr.Number,
		cdr.Status,
		cdr.Operator,
		cdr.AcceptedAt.UTC(),
		answered,
		cdr.FinishedAt.UTC(),
		res.Duration.Milliseconds(),
		cdr.Error,
	)
	if err != nil {
		return fmt.Errorf("insert call record %d: %w", id, err)
	}
	return nil
}

// CountByStatus returns how many records of this run have the given status
func (s *SQL) CountByStatus(ctx context.Context, status task.Status) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM call_records WHERE run_id = $1 AND status = $2`,
		s.runID, status.String()).Scan(&n)
	return n, err
}
