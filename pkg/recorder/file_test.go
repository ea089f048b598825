package recorder

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fluxorio/callcenter/pkg/task"
)

func TestFile_WritesHeaderAndLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.txt")
	fr, err := NewFile(FileConfig{Path: path, Buffer: 16}, nil)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}

	for i := task.CallID(1); i <= 3; i++ {
		if err := fr.MakeRecord(context.Background(), i, completed(i)); err != nil {
			t.Fatalf("MakeRecord() error = %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := fr.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 6 {
		t.Fatalf("file has %d lines, want 3 header + 3 records", len(lines))
	}
	if !strings.HasPrefix(lines[1], "#DT of the incoming call;Incoming Call ID") {
		t.Errorf("header line = %q", lines[1])
	}
	if !strings.Contains(lines[5], ";3;5550100;") {
		t.Errorf("last record = %q, want call 3", lines[5])
	}

	if err := fr.MakeRecord(context.Background(), 4, completed(4)); err != ErrClosed {
		t.Errorf("MakeRecord() after Close error = %v, want ErrClosed", err)
	}
}

func TestFile_AppendSkipsHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cdr.txt")
	for run := 0; run < 2; run++ {
		fr, err := NewFile(FileConfig{Path: path}, nil)
		if err != nil {
			t.Fatalf("NewFile() error = %v", err)
		}
		fr.MakeRecord(context.Background(), task.CallID(run+1), completed(1))
		fr.Close(context.Background())
	}

	data, _ := os.ReadFile(path)
	if n := strings.Count(string(data), "#DT of the incoming call"); n != 1 {
		t.Errorf("header written %d times, want 1", n)
	}
}

func TestFile_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cdr.txt")
	fr, err := NewFile(FileConfig{Path: path, MaxBytes: int64(len(fileHeader)) + 150}, nil)
	if err != nil {
		t.Fatalf("NewFile() error = %v", err)
	}
	for i := task.CallID(1); i <= 6; i++ {
		fr.MakeRecord(context.Background(), i, completed(i))
	}
	fr.Close(context.Background())

	matches, _ := filepath.Glob(path + ".*")
	if len(matches) == 0 {
		t.Error("expected at least one rotated file")
	}
}

func TestNewFile_EmptyPath(t *testing.T) {
	if _, err := NewFile(FileConfig{}, nil); err == nil {
		t.Error("NewFile() with empty path should fail")
	}
}
