package recorder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/fluxorio/callcenter/pkg/db"
	"github.com/fluxorio/callcenter/pkg/task"
)

func newSQLiteRecorder(t *testing.T) *SQL {
	t.Helper()
	pool, err := db.NewPool(db.DefaultPoolConfig(filepath.Join(t.TempDir(), "cdr.db"), db.DriverSQLite))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() { pool.Close() })

	rec, err := NewSQL(context.Background(), pool, time.Second)
	if err != nil {
		t.Fatalf("NewSQL() error = %v", err)
	}
	return rec
}

func TestSQL_InsertsRecords(t *testing.T) {
	rec := newSQLiteRecorder(t)
	ctx := context.Background()

	for i := task.CallID(1); i <= 3; i++ {
		if err := rec.MakeRecord(ctx, i, completed(i)); err != nil {
			t.Fatalf("MakeRecord(%d) error = %v", i, err)
		}
	}
	overloaded := task.Result{Number: "9", Status: task.StatusOverloaded, AcceptedAt: accepted, FinishedAt: accepted}
	if err := rec.MakeRecord(ctx, 4, overloaded); err != nil {
		t.Fatalf("MakeRecord() error = %v", err)
	}

	if n, err := rec.CountByStatus(ctx, task.StatusCompleted); err != nil || n != 3 {
		t.Errorf("CountByStatus(Completed) = %v, %v, want 3", n, err)
	}
	if n, _ := rec.CountByStatus(ctx, task.StatusOverloaded); n != 1 {
		t.Errorf("CountByStatus(Overloaded) = %v, want 1", n)
	}
}

func TestSQL_DuplicateCallID(t *testing.T) {
	rec := newSQLiteRecorder(t)
	ctx := context.Background()

	rec.MakeRecord(ctx, 1, completed(1))
	if err := rec.MakeRecord(ctx, 1, completed(1)); err == nil {
		t.Error("second record for the same call should fail")
	}
}

func TestSQL_SeparateRuns(t *testing.T) {
	pool, err := db.NewPool(db.DefaultPoolConfig(filepath.Join(t.TempDir(), "cdr.db"), db.DriverSQLite))
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	defer pool.Close()

	ctx := context.Background()
	first, _ := NewSQL(ctx, pool, 0)
	second, _ := NewSQL(ctx, pool, 0)
	if first.RunID() == second.RunID() {
		t.Fatal("run ids should differ")
	}
	if err := first.MakeRecord(ctx, 1, completed(1)); err != nil {
		t.Fatalf("MakeRecord() error = %v", err)
	}
	if err := second.MakeRecord(ctx, 1, completed(1)); err != nil {
		t.Errorf("MakeRecord() in a new run error = %v", err)
	}
}
