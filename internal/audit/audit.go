// Package audit keeps a JSON-lines history of every deploy step.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Outcomes recorded for a step.
const (
	Success = "success"
	Skipped = "skipped"
	Failure = "failure"
)

// Entry records one step on one host.
type Entry struct {
	Time        time.Time `json:"time"`
	RunID       string    `json:"run_id"`
	Command     string    `json:"command"` // "deploy" | "update" | "restart" | ...
	Environment string    `json:"environment"`
	Host        string    `json:"host,omitempty"`
	Step        string    `json:"step"`
	Outcome     string    `json:"outcome"`
	Error       string    `json:"error,omitempty"`
}

// Log is an append-only history file.
type Log struct {
	Path string
}

// Default returns the per-user history at ~/.local/share/djdeploy/history.log.
func Default() (*Log, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home dir: %w", err)
	}
	return &Log{Path: filepath.Join(home, ".local", "share", "djdeploy", "history.log")}, nil
}

// Append writes e as one line, stamping the time when unset.
func (l *Log) Append(e Entry) error {
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
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

// Filter selects entries in Read. Empty fields match everything.
type Filter struct {
	Environment string
	Host        string
	RunID       string
}

func (f Filter) match(e Entry) bool {
	return (f.Environment == "" || e.Environment == f.Environment) &&
		(f.Host == "" || e.Host == f.Host) &&
		(f.RunID == "" || e.RunID == f.RunID)
}

// Read returns the last limit entries matching f (all when limit <= 0).
// A missing file yields no entries. Malformed lines are skipped.
func (l *Log) Read(f Filter, limit int) ([]Entry, error) {
	file, err := os.Open(l.Path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		if f.match(e) {
			entries = append(entries, e)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries, nil
}
