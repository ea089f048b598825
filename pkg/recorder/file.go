package recorder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/concurrency"
	"github.com/fluxorio/callcenter/pkg/task"
)

var fileHeader = strings.Repeat("#", 136) + "\n" +
	"#DT of the incoming call;Incoming Call ID;Caller number;DT of call termination;" +
	"Call status;DT operator answer;Operator ID;Call duration#\n" +
	strings.Repeat("#", 136) + "\n"

// FileConfig configures the CDR file recorder
type FileConfig struct {
	Path string
	// Buffer is the number of lines queued for the writer
	Buffer int
	// MaxBytes rotates the file once it would grow beyond this size; 0 disables rotation
	MaxBytes int64
}

// File appends CDR lines to a text file from a single writer goroutine
type File struct {
	cfg    FileConfig
	lines  concurrency.Mailbox[string]
	logger core.Logger

	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	size int64

	done chan struct{}
	once sync.Once
}

// NewFile opens (or creates) the CDR file and starts the writer
func NewFile(cfg FileConfig, logger core.Logger) (*File, error) {
	if cfg.Path == "" {
		return nil, &core.Error{Code: core.CodeInvalidConfig, Message: "CDR file path cannot be empty"}
	}
	if logger == nil {
		logger = core.NopLogger()
	}
	fr := &File{
		cfg:    cfg,
		lines:  concurrency.NewMailbox[string](cfg.Buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	if err := fr.open(); err != nil {
		return nil, err
	}
	go fr.loop()
	return fr, nil
}

func (fr *File) open() error {
	// #nosec G304 -- the CDR path comes from the operator's configuration.
	f, err := os.OpenFile(fr.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open CDR file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat CDR file: %w", err)
	}

	fr.f = f
	fr.w = bufio.NewWriter(f)
	fr.size = info.Size()
	if fr.size == 0 {
		n, _ := fr.w.WriteString(fileHeader)
		fr.size += int64(n)
	}
	return nil
}

func (fr *File) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	err := fr.lines.Send(NewCDR(id, res).Line() + "\n")
	switch {
	case errors.Is(err, concurrency.ErrMailboxFull):
		return ErrBackpressure
	case errors.Is(err, concurrency.ErrMailboxClosed):
		return ErrClosed
	}
	return err
}

func (fr *File) loop() {
	defer close(fr.done)
	for {
		line, err := fr.lines.Receive(context.Background())
		if err != nil {
			return
		}
		fr.mu.Lock()
		if err := fr.write(line); err != nil {
			fr.logger.Error("CDR write failed", "path", fr.cfg.Path, "error", err)
		}
		if fr.lines.Size() == 0 {
			if err := fr.w.Flush(); err != nil {
				fr.logger.Error("CDR flush failed", "path", fr.cfg.Path, "error", err)
			}
		}
		fr.mu.Unlock()
	}
}

func (fr *File) write(line string) error {
	if fr.cfg.MaxBytes > 0 && fr.size+int64(len(line)) > fr.cfg.MaxBytes && fr.size > int64(len(fileHeader)) {
		if err := fr.rotate(); err != nil {
			return err
		}
	}
	n, err := fr.w.WriteString(line)
	fr.size += int64(n)
	return err
}

func (fr *File) rotate() error {
	if err := fr.w.Flush(); err != nil {
		return err
	}
	if err := fr.f.Close(); err != nil {
		return err
	}
	rotated := fmt.Sprintf("%s.%s", fr.cfg.Path, time.Now().Format("20060102-150405.000000000"))
	if err := os.Rename(fr.cfg.Path, rotated); err != nil {
		return fmt.Errorf("rotate CDR file: %w", err)
	}
	fr.logger.Info("CDR file rotated", "path", rotated)
	return fr.open()
}

// Flush writes buffered lines that already reached the writer
func (fr *File) Flush() error {
	fr.mu.Lock()
	defer fr.mu.Unlock()
	return fr.w.Flush()
}

// Close drains queued lines, flushes and closes the file
func (fr *File) Close(ctx context.Context) error {
	fr.once.Do(fr.lines.Close)
	select {
	case <-fr.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	fr.mu.Lock()
	defer fr.mu.Unlock()
	return errors.Join(fr.w.Flush(), fr.f.Close())
}
