package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// Local executes commands on this machine through sh -c. It backs the
// "local" transport used for development environments.
type Local struct {
	Name   string
	Logger *slog.Logger
}

// NewLocal returns a Local executor reporting itself as host.
func NewLocal(host string, logger *slog.Logger) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{Name: host, Logger: logger}
}

func (l *Local) Host() string { return l.Name }

func (l *Local) Close() error { return nil }

func (l *Local) Run(ctx context.Context, command string, elevated bool) (Result, error) {
	line := command
	if elevated {
		line = Elevate(command)
	}
	l.Logger.Debug("run", "host", l.Name, "command", line)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	res := Result{Host: l.Name, Command: command}

	runErr := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if runErr == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) && ctx.Err() == nil {
		res.ExitStatus = exitErr.ExitCode()
		return res, nil
	}
	return res, fmt.Errorf("%s: run %q: %w", l.Name, command, runErr)
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *Local) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := copyFile(localPath, remotePath); err != nil {
		return &TransferError{Host: l.Name, Op: "upload", Path: remotePath, Err: err}
	}
	return nil
}

func (l *Local) AppendLine(ctx context.Context, remotePath, line string, elevated bool) error {
	res, err := l.Run(ctx, appendLineCommand(remotePath, line), elevated)
	if err == nil {
		err = res.Err()
	}
	if err != nil {
		return &TransferError{Host: l.Name, Op: "append", Path: remotePath, Err: err}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// LocalDialer hands out Local sessions regardless of host name.
type LocalDialer struct {
	Logger *slog.Logger
}

func (d LocalDialer) Dial(ctx context.Context, host string) (Session, error) {
	return NewLocal(host, d.Logger), nil
}
