// Package audit keeps an append-only JSONL trail of every command the
// console tried to put on the air.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Outcomes recorded for a dispatch attempt
const (
	OutcomeSent   = "SENT"
	OutcomeFailed = "FAILED"
)

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Session   string    `json:"session"`
	Source    string    `json:"source"`
	Verb      string    `json:"verb"`
	Command   string    `json:"command"`
	Target    string    `json:"target"`
	Group     uint32    `json:"group"`
	Args      []any     `json:"args"`
	Outcome   string    `json:"outcome"`
	Code      string    `json:"code"`
}

// Options controls file location and rotation
type Options struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Logger implements the audit logging functionality.
type Logger struct {
	mu       sync.Mutex
	filePath string
	session  string
	out      io.WriteCloser
}

type contextKey struct{}

// WithSource tags ctx with the input source of the current line
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, contextKey{}, source)
}

// SourceFrom returns the input source stored by WithSource
func SourceFrom(ctx context.Context) string {
	if source, ok := ctx.Value(contextKey{}).(string); ok {
		return source
	}
	return "unknown"
}

// NewLogger creates a new audit logger writing to <dir>/audit.jsonl with
// size based rotation.
func NewLogger(opts Options) (*Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filePath := filepath.Join(opts.Dir, "audit.jsonl")

	return &Logger{
		filePath: filePath,
		session:  uuid.NewString(),
		out: &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   opts.Compress,
		},
	}, nil
}

// Session returns the id stamped on every entry of this process
func (l *Logger) Session() string {
	return l.session
}

// LogDispatch records one dispatch attempt. A nil err means the datagram
// left the socket; code classifies failures.
func (l *Logger) LogDispatch(ctx context.Context, entry AuditEntry, err error, code string) {
	entry.Timestamp = time.Now().UTC()
	entry.Session = l.session
	entry.Source = SourceFrom(ctx)
	entry.Outcome = OutcomeSent
	entry.Code = "SUCCESS"
	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Code = code
	}
	if entry.Args == nil {
		entry.Args = []any{}
	}

	l.writeEntry(entry)
}

// writeEntry writes an audit entry to the log file.
func (l *Logger) writeEntry(entry AuditEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out == nil {
		return
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to marshal audit entry: %v\n", err)
		return
	}

	if _, err := l.out.Write(append(jsonData, '\n')); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write audit entry: %v\n", err)
	}
}

// Rotate closes the current file and starts a new one, keeping the old
// file as a timestamped backup.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if lj, ok := l.out.(*lumberjack.Logger); ok {
		return lj.Rotate()
	}
	return nil
}

// Close closes the audit logger and its file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		err := l.out.Close()
		l.out = nil
		return err
	}
	return nil
}

// GetFilePath returns the path to the audit log file.
func (l *Logger) GetFilePath() string {
	return l.filePath
}
