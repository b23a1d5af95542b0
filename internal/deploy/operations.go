package deploy

import (
	"context"
	"errors"
	"strings"
)

// Update fetches upstream and, when anything changed (or action is Force),
// merges it and runs the conditional dependency and asset steps. It ends with
// the health check.
func (c *Controller) Update(ctx context.Context, action Action) (Report, error) {
	return c.execute(ctx, plan{
		command: "update",
		roles:   webAndDB,
		steps:   c.updateSteps(),
		verify:  true,
		action:  action,
	})
}

// Deploy is update, collect-assets, sync-database and restart on each host,
// then the health check. Only the update part depends on the change set.
func (c *Controller) Deploy(ctx context.Context, action Action) (Report, error) {
	return c.execute(ctx, plan{
		command: "deploy",
		roles:   webAndDB,
		steps:   c.deploySteps(),
		verify:  true,
		action:  action,
	})
}

func (c *Controller) deploySteps() []Step {
	return append(c.updateSteps(), c.collectStep(), c.syncStep(), c.restartStep())
}

// Restart restarts the web process on every web host and checks the site.
// hard also restarts the reverse proxy.
func (c *Controller) Restart(ctx context.Context, hard bool) (Report, error) {
	return c.execute(ctx, plan{
		command: "restart",
		roles:   webOnly,
		steps:   []Step{c.restartStep()},
		verify:  true,
		hard:    hard,
	})
}

// Setup prepares hosts for their first deploy: home directory mode, clone,
// virtualenv and configured files. It then deploys with Force, since nothing
// has been installed yet, and checks the site.
func (c *Controller) Setup(ctx context.Context) (Report, error) {
	steps := []Step{c.homeStep(), c.cloneStep(), c.virtualenvStep(), c.pushFilesStep()}
	return c.execute(ctx, plan{
		command: "setup",
		roles:   webAndDB,
		steps:   append(steps, c.deploySteps()...),
		verify:  true,
		action:  Force,
	})
}

// CollectAssets gathers static files on web hosts.
func (c *Controller) CollectAssets(ctx context.Context) (Report, error) {
	return c.execute(ctx, plan{command: "collect-assets", roles: webOnly, steps: []Step{c.collectStep()}})
}

// SyncDatabase migrates the schema on db hosts.
func (c *Controller) SyncDatabase(ctx context.Context) (Report, error) {
	return c.execute(ctx, plan{command: "sync-database", roles: dbOnly, steps: []Step{c.syncStep()}})
}

// Requirements installs the dependency list regardless of changes.
func (c *Controller) Requirements(ctx context.Context) (Report, error) {
	return c.execute(ctx, plan{
		command: "requirements",
		roles:   webAndDB,
		steps:   []Step{c.requirementsStep()},
		action:  Force,
	})
}

// CompileAssets builds stylesheets regardless of changes. It is still
// skipped when the host has no style config.
func (c *Controller) CompileAssets(ctx context.Context) (Report, error) {
	return c.execute(ctx, plan{
		command: "compile-assets",
		roles:   webAndDB,
		steps:   []Step{c.stylesheetsStep()},
		action:  Force,
	})
}

// ErrEmptyCommand is returned by RunCommand and Manage for blank input.
var ErrEmptyCommand = errors.New("no command given")

// RunCommand runs cmd in the project directory with the virtualenv active.
func (c *Controller) RunCommand(ctx context.Context, cmd string) (Report, error) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return Report{RunID: c.RunID, Command: "run-command", Environment: c.Profile.Name}, ErrEmptyCommand
	}
	step := c.shellStep("run-command", func(ctx context.Context, t *target) (string, error) {
		return t.app.Run(ctx, cmd)
	})
	return c.execute(ctx, plan{command: "run-command", roles: webAndDB, steps: []Step{step}})
}

// Manage runs manage.py with args under the profile's settings module.
func (c *Controller) Manage(ctx context.Context, args ...string) (Report, error) {
	if len(args) == 0 {
		return Report{RunID: c.RunID, Command: "manage", Environment: c.Profile.Name}, ErrEmptyCommand
	}
	step := c.shellStep("manage", func(ctx context.Context, t *target) (string, error) {
		return t.app.Manage(ctx, args...)
	})
	return c.execute(ctx, plan{command: "manage", roles: webAndDB, steps: []Step{step}})
}

// PushFiles uploads the profile's files, decrypting ".age" sources.
func (c *Controller) PushFiles(ctx context.Context) (Report, error) {
	return c.execute(ctx, plan{command: "push-files", roles: webAndDB, steps: []Step{c.pushFilesStep()}})
}

// AuthorizeKey installs publicKey for the system user on every host.
func (c *Controller) AuthorizeKey(ctx context.Context, publicKey string) (Report, error) {
	key, err := NormalizeKey(publicKey)
	if err != nil {
		return Report{RunID: c.RunID, Command: "authorize-key", Environment: c.Profile.Name}, err
	}
	return c.execute(ctx, plan{command: "authorize-key", roles: webAndDB, steps: []Step{c.authorizeKeyStep(key)}})
}

// NormalizeKey keeps the type and key fields of an OpenSSH public key line,
// dropping the comment so the same key always produces the same line.
func NormalizeKey(publicKey string) (string, error) {
	fields := strings.Fields(publicKey)
	if len(fields) < 2 {
		return "", errors.New("public key must be \"<type> <base64> [comment]\"")
	}
	return fields[0] + " " + fields[1], nil
}
