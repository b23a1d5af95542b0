// Package webapp builds the commands that run inside the application's
// project directory with its virtualenv active: pip, manage.py and the
// stylesheet compiler.
package webapp

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/atomikpanda/djdeploy/internal/remote"
)

// App is one checkout of the web application on a host.
type App struct {
	Exec             remote.Executor
	ProjectPath      string
	VenvPath         string
	Settings         string // settings module passed to manage.py
	RequirementsFile string // relative to ProjectPath
}

// Command wraps cmd so it runs in ProjectPath with the virtualenv active.
func (a *App) Command(cmd string) string {
	activate := path.Join(a.VenvPath, "bin", "activate")
	return remote.InDir(a.ProjectPath, fmt.Sprintf(". %s && %s", remote.Quote(activate), cmd))
}

// Run executes cmd in the application environment and returns its output.
func (a *App) Run(ctx context.Context, cmd string) (string, error) {
	return remote.Output(ctx, a.Exec, a.Command(cmd), false)
}

// Manage runs manage.py with args under the configured settings module.
func (a *App) Manage(ctx context.Context, args ...string) (string, error) {
	cmd := "python manage.py " + strings.Join(args, " ")
	if a.Settings != "" {
		cmd += " --settings=" + a.Settings
	}
	return a.Run(ctx, cmd)
}

// InstallRequirements installs the pinned dependency list into the virtualenv.
func (a *App) InstallRequirements(ctx context.Context) error {
	_, err := a.Run(ctx, "pip install -r "+remote.Quote(a.RequirementsFile))
	return err
}

// CompileStylesheets runs buildCommand against the style config.
func (a *App) CompileStylesheets(ctx context.Context, buildCommand, config string) error {
	_, err := a.Run(ctx, buildCommand+" "+remote.Quote(config))
	return err
}

// CollectStatic gathers static files. command is the manage.py subcommand
// with its flags.
func (a *App) CollectStatic(ctx context.Context, command string) error {
	_, err := a.Manage(ctx, command)
	return err
}

// SyncDatabase brings the schema up to date. command is the manage.py
// subcommand with its flags.
func (a *App) SyncDatabase(ctx context.Context, command string) error {
	_, err := a.Manage(ctx, command)
	return err
}

// HasVirtualenv reports whether the virtualenv has been created.
func (a *App) HasVirtualenv(ctx context.Context) (bool, error) {
	return a.Exec.Exists(ctx, path.Join(a.VenvPath, "bin", "activate"))
}

// CreateVirtualenv creates the virtualenv. It runs outside the project
// directory since the checkout may not exist yet.
func (a *App) CreateVirtualenv(ctx context.Context) error {
	_, err := remote.Output(ctx, a.Exec, "virtualenv "+remote.Quote(strings.TrimSuffix(a.VenvPath, "/")), false)
	return err
}
