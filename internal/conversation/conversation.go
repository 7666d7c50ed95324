// Package conversation records prompt/response pairs for auditing. Three
// modes exist: none, console (structured log), and file (daily append-only
// log files).
package conversation

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

type Mode string

const (
	ModeNone    Mode = "none"
	ModeConsole Mode = "console"
	ModeFile    Mode = "file"
)

// Entry is one completed exchange, successful or not.
type Entry struct {
	Model        string
	ProviderType string
	Prompt       string
	Response     string
	Stream       bool
	Error        string
	Duration     time.Duration
}

// Logger writes conversation entries according to its mode. Safe for
// concurrent use.
type Logger struct {
	mode   Mode
	dir    string
	logger *slog.Logger

	mu sync.Mutex
}

func NewLogger(mode Mode, dir string, logger *slog.Logger) *Logger {
	if mode == "" {
		mode = ModeNone
	}
	return &Logger{mode: mode, dir: dir, logger: logger}
}

// Record writes one entry. Failures to write are logged, never
// propagated: conversation logging must not fail a request.
func (l *Logger) Record(e Entry) {
	switch l.mode {
	case ModeConsole:
		l.logger.Info("conversation",
			"model", e.Model,
			"provider", e.ProviderType,
			"stream", e.Stream,
			"duration", e.Duration,
			"prompt", truncate(e.Prompt, 2000),
			"response", truncate(e.Response, 2000),
			"error", e.Error,
		)
	case ModeFile:
		if err := l.appendFile(e); err != nil {
			l.logger.Warn("conversation log write failed", "error", err)
		}
	}
}

func (l *Logger) appendFile(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(l.dir, "conversations-"+time.Now().Format("2006-01-02")+".log")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	fmt.Fprintf(&b, "---- %s ----\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&b, "model: %s provider: %s stream: %t duration: %s\n", e.Model, e.ProviderType, e.Stream, e.Duration)
	if e.Error != "" {
		fmt.Fprintf(&b, "error: %s\n", e.Error)
	}
	fmt.Fprintf(&b, "prompt:\n%s\n", e.Prompt)
	fmt.Fprintf(&b, "response:\n%s\n\n", e.Response)

	_, err = f.WriteString(b.String())
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
