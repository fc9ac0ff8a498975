// Package audit provides an append-only JSON-lines history of every action
// a real run performed.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/rs/zerolog"

	"github.com/atomikpanda/wayup/internal/executor"
	"github.com/atomikpanda/wayup/internal/logging"
)

// Entry records the outcome of one action.
type Entry struct {
	Time     time.Time       `json:"time"`
	Run      string          `json:"run"` // shared by every entry of one run
	Kind     string          `json:"kind"`
	Action   string          `json:"action"`
	Status   executor.Status `json:"status"`
	Fallback int             `json:"fallback,omitempty"`
	Reason   string          `json:"reason,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// Path returns the default location of the history log.
func Path() string {
	return filepath.Join(xdg.StateHome, "wayup", "history.log")
}

// Log appends entries for one run.
type Log struct {
	Path   string
	Run    string
	Now    func() time.Time
	Logger zerolog.Logger
}

// New returns a Log writing to path. The run id is taken from the current
// time.
func New(path string) *Log {
	now := time.Now
	return &Log{
		Path:   path,
		Run:    now().UTC().Format("20060102T150405Z"),
		Now:    now,
		Logger: logging.GetLogger("audit"),
	}
}

// Record appends o. Failures are logged and otherwise ignored so that the
// history never halts an install. Its signature fits executor.OnOutcome.
func (l *Log) Record(o executor.Outcome) {
	e := Entry{
		Time:     l.Now().UTC(),
		Run:      l.Run,
		Kind:     string(o.Action.Kind),
		Action:   o.Action.Describe(),
		Status:   o.Status,
		Fallback: o.Fallback,
		Reason:   o.Reason,
	}
	if o.Status == executor.Failed {
		e.Error = o.Detail
	}
	if err := l.append(e); err != nil {
		l.Logger.Debug().Err(err).Str("path", l.Path).Msg("Could not write history")
	}
}

func (l *Log) append(e Entry) error {
	if err := os.MkdirAll(filepath.Dir(l.Path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	line, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// Read loads entries from path, oldest first. It returns the last limit
// entries (all if limit <= 0). A missing file is an empty history.
func Read(path string, limit int) ([]Entry, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
