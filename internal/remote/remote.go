// Package remote is the command-execution surface the deploy controller
// depends on: run a shell command on a host (optionally elevated), test for a
// path, upload a file and append a line to a file. Implementations exist for
// SSH, the local machine and dry runs.
package remote

import (
	"context"
	"fmt"
	"strings"
)

// Executor runs commands against a single host.
type Executor interface {
	// Run executes command through the host's shell. A non-zero exit is not a
	// Go error; it is reported in Result.ExitStatus. The error is reserved for
	// transport failures (connection lost, binary missing, ctx cancelled).
	Run(ctx context.Context, command string, elevated bool) (Result, error)
	// Exists reports whether path exists on the host.
	Exists(ctx context.Context, path string) (bool, error)
	// Upload copies a local file to remotePath. Failures are *TransferError.
	Upload(ctx context.Context, localPath, remotePath string) error
	// AppendLine appends line to remotePath unless an identical line is
	// already present. Failures are *TransferError.
	AppendLine(ctx context.Context, remotePath, line string, elevated bool) error
}

// Session is an Executor bound to a connected host.
type Session interface {
	Executor
	Host() string
	Close() error
}

// Dialer opens sessions to hosts named in a profile's role map.
type Dialer interface {
	Dial(ctx context.Context, host string) (Session, error)
}

// Result is the outcome of one Run call.
type Result struct {
	Host       string
	Command    string
	Stdout     string
	Stderr     string
	ExitStatus int
}

// Err returns a *CommandError when the command exited non-zero.
func (r Result) Err() error {
	if r.ExitStatus == 0 {
		return nil
	}
	return &CommandError{
		Host:       r.Host,
		Command:    r.Command,
		ExitStatus: r.ExitStatus,
		Output:     strings.TrimSpace(r.Stdout + "\n" + r.Stderr),
	}
}

// Output runs command and returns its stdout, turning a non-zero exit into a
// *CommandError.
func Output(ctx context.Context, ex Executor, command string, elevated bool) (string, error) {
	res, err := ex.Run(ctx, command, elevated)
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	return res.Stdout, nil
}

// Quote wraps s in single quotes for a POSIX shell, escaping embedded quotes.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Elevate wraps command so it runs as root through non-interactive sudo.
func Elevate(command string) string {
	return "sudo -n sh -c " + Quote(command)
}

// InDir prefixes command with a cd into dir.
func InDir(dir, command string) string {
	return fmt.Sprintf("cd %s && %s", Quote(dir), command)
}

func existsCommand(path string) string {
	return "test -e " + Quote(path)
}

func appendLineCommand(path, line string) string {
	return fmt.Sprintf("grep -qxF -- %[2]s %[1]s 2>/dev/null || printf '%%s\\n' %[2]s >> %[1]s",
		Quote(path), Quote(line))
}

// existsFromResult interprets the exit status of existsCommand.
func existsFromResult(res Result) (bool, error) {
	switch res.ExitStatus {
	case 0:
		return true, nil
	case 1:
		return false, nil
	default:
		return false, res.Err()
	}
}
