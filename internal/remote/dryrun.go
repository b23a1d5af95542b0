package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/atomikpanda/djdeploy/internal/color"
)

// DryRun prints every operation instead of performing it. Commands report
// success with empty output and Exists reports false, so change detection in
// a dry run always sees an empty ChangeSet.
type DryRun struct {
	Name string
	Out  io.Writer
}

func (d *DryRun) Host() string { return d.Name }

func (d *DryRun) Close() error { return nil }

func (d *DryRun) print(format string, args ...any) {
	fmt.Fprintf(d.Out, "    %s\n", color.Dim(fmt.Sprintf("[dry-run] "+format, args...)))
}

func (d *DryRun) Run(ctx context.Context, command string, elevated bool) (Result, error) {
	if elevated {
		d.print("sudo: %s", command)
	} else {
		d.print("run: %s", command)
	}
	return Result{Host: d.Name, Command: command}, nil
}

func (d *DryRun) Exists(ctx context.Context, path string) (bool, error) {
	d.print("exists: %s", path)
	return false, nil
}

func (d *DryRun) Upload(ctx context.Context, localPath, remotePath string) error {
	d.print("upload: %s -> %s", localPath, remotePath)
	return nil
}

func (d *DryRun) AppendLine(ctx context.Context, remotePath, line string, elevated bool) error {
	d.print("append: %q >> %s", line, remotePath)
	return nil
}

// DryRunDialer hands out DryRun sessions writing to Out.
type DryRunDialer struct {
	Out io.Writer
}

func (d DryRunDialer) Dial(ctx context.Context, host string) (Session, error) {
	return &DryRun{Name: host, Out: d.Out}, nil
}
