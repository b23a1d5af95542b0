package deploy

import (
	"context"
	"fmt"
	"path"
	"slices"
	"strings"

	"github.com/atomikpanda/djdeploy/internal/ageutil"
	"github.com/atomikpanda/djdeploy/internal/changes"
	"github.com/atomikpanda/djdeploy/internal/color"
	"github.com/atomikpanda/djdeploy/internal/profile"
	"github.com/atomikpanda/djdeploy/internal/remote"
)

// Step is one unit of work in a plan.
type Step struct {
	Name string
	// Roles the step applies to. A host with none of them treats the step
	// as a no-op.
	Roles []string
	// Reaches is the state a host is in once the step has resolved, whether
	// it ran or was skipped. Pending means the step does not move the state.
	Reaches State
	// Skip returns a non-empty reason when the step should not run.
	Skip func(ctx context.Context, t *target) (string, error)
	Run  func(ctx context.Context, t *target) error
}

func (s Step) appliesTo(roles []string) bool {
	for _, r := range s.Roles {
		if slices.Contains(roles, r) {
			return true
		}
	}
	return false
}

var (
	webAndDB = []string{profile.RoleWeb, profile.RoleDB}
	webOnly  = []string{profile.RoleWeb}
	dbOnly   = []string{profile.RoleDB}
)

const reasonUnchanged = "no upstream changes"

// updateSteps is fetch, merge and the two conditional steps.
func (c *Controller) updateSteps() []Step {
	return []Step{c.fetchStep(), c.mergeStep(), c.requirementsStep(), c.stylesheetsStep()}
}

func (c *Controller) fetchStep() Step {
	policy := changes.Policy{
		Dependencies:     c.Profile.Detection.Dependencies,
		Stylesheets:      c.Profile.Detection.Stylesheets,
		RequirementsFile: c.Profile.RequirementsFile,
	}
	return Step{
		Name:    "fetch",
		Roles:   webAndDB,
		Reaches: Fetched,
		Run: func(ctx context.Context, t *target) error {
			det, err := changes.Detect(ctx, t.git, policy)
			if err != nil {
				return err
			}
			t.detection = det
			t.res.Changes = det.Changes
			t.unchanged = det.Changes.Empty() && t.action != Force
			if c.Verbose && !det.Changes.Empty() {
				for _, f := range det.Changes {
					c.printf("     %s\n", color.Dim(f))
				}
			}
			return nil
		},
	}
}

func (c *Controller) mergeStep() Step {
	return Step{
		Name:    "merge",
		Roles:   webAndDB,
		Reaches: Merged,
		Skip: func(ctx context.Context, t *target) (string, error) {
			if t.unchanged {
				return reasonUnchanged, nil
			}
			return "", nil
		},
		Run: func(ctx context.Context, t *target) error {
			if err := t.git.Merge(ctx); err != nil {
				return err
			}
			if err := t.git.Purge(ctx); err != nil {
				return err
			}
			t.res.Updated = true
			return nil
		},
	}
}

// conditional decides whether an action-gated step runs.
func conditional(t *target, changed bool, what string) string {
	switch {
	case t.unchanged:
		return reasonUnchanged
	case t.action == Skip:
		return "action skip"
	case t.action == Force:
		return ""
	case !changed:
		return what + " unchanged"
	}
	return ""
}

func (c *Controller) requirementsStep() Step {
	return Step{
		Name:    "requirements",
		Roles:   webAndDB,
		Reaches: DependenciesResolved,
		Skip: func(ctx context.Context, t *target) (string, error) {
			return conditional(t, t.detection.DependenciesChanged, "dependencies"), nil
		},
		Run: func(ctx context.Context, t *target) error {
			if err := t.app.InstallRequirements(ctx); err != nil {
				return err
			}
			t.res.DependenciesUpdated = true
			return nil
		},
	}
}

func (c *Controller) stylesheetsStep() Step {
	cfg := c.Profile.Assets.StyleConfig
	return Step{
		Name:    "compile-assets",
		Roles:   webAndDB,
		Reaches: AssetsResolved,
		Skip: func(ctx context.Context, t *target) (string, error) {
			if reason := conditional(t, t.detection.StylesheetsChanged, "stylesheets"); reason != "" {
				return reason, nil
			}
			if cfg == "" {
				return "no style config", nil
			}
			ok, err := t.exec.Exists(ctx, path.Join(c.Profile.ProjectPath, cfg))
			if err != nil {
				return "", err
			}
			if !ok {
				return cfg + " not found", nil
			}
			return "", nil
		},
		Run: func(ctx context.Context, t *target) error {
			if err := t.app.CompileStylesheets(ctx, c.Profile.Assets.BuildCommand, cfg); err != nil {
				return err
			}
			t.res.AssetsRebuilt = true
			return nil
		},
	}
}

func (c *Controller) collectStep() Step {
	return Step{
		Name:  "collect-assets",
		Roles: webOnly,
		Run: func(ctx context.Context, t *target) error {
			return t.app.CollectStatic(ctx, c.Profile.Assets.CollectCommand)
		},
	}
}

func (c *Controller) syncStep() Step {
	return Step{
		Name:  "sync-database",
		Roles: dbOnly,
		Run: func(ctx context.Context, t *target) error {
			return t.app.SyncDatabase(ctx, c.Profile.Database.SyncCommand)
		},
	}
}

func (c *Controller) restartStep() Step {
	return Step{
		Name:    "restart",
		Roles:   webOnly,
		Reaches: Restarted,
		Run: func(ctx context.Context, t *target) error {
			out, err := t.sup.Restart(ctx)
			if err != nil {
				return err
			}
			if out.Started {
				c.printf("     %s\n", color.Yellow("supervisor was not running; started it"))
			}
			t.res.Restarted = true
			if t.hard {
				if err := t.proxy.Restart(ctx); err != nil {
					return err
				}
				t.res.ProxyRestarted = true
			}
			return nil
		},
	}
}

func (c *Controller) shellStep(name string, run func(ctx context.Context, t *target) (string, error)) Step {
	return Step{
		Name:  name,
		Roles: webAndDB,
		Run: func(ctx context.Context, t *target) error {
			out, err := run(ctx, t)
			t.res.Output = out
			if out = strings.TrimRight(out, "\n"); out != "" {
				c.printf("%s\n", indent(out, "     "))
			}
			return err
		},
	}
}

func indent(s, prefix string) string {
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}

// Setup steps.

func (c *Controller) homeStep() Step {
	return Step{
		Name:  "prepare-home",
		Roles: webAndDB,
		Run: func(ctx context.Context, t *target) error {
			_, err := remote.Output(ctx, t.exec, "chmod 711 "+remote.Quote(c.homeDir()), false)
			return err
		},
	}
}

func (c *Controller) cloneStep() Step {
	return Step{
		Name:  "clone",
		Roles: webAndDB,
		Skip: func(ctx context.Context, t *target) (string, error) {
			ok, err := t.git.IsCheckout(ctx)
			if err != nil || !ok {
				return "", err
			}
			return "repository already cloned", nil
		},
		Run: func(ctx context.Context, t *target) error {
			return t.git.Clone(ctx, c.Profile.Repository)
		},
	}
}

func (c *Controller) virtualenvStep() Step {
	return Step{
		Name:  "virtualenv",
		Roles: webAndDB,
		Skip: func(ctx context.Context, t *target) (string, error) {
			ok, err := t.app.HasVirtualenv(ctx)
			if err != nil || !ok {
				return "", err
			}
			return "virtualenv already exists", nil
		},
		Run: func(ctx context.Context, t *target) error {
			return t.app.CreateVirtualenv(ctx)
		},
	}
}

func (c *Controller) pushFilesStep() Step {
	return Step{
		Name:  "push-files",
		Roles: webAndDB,
		Skip: func(ctx context.Context, t *target) (string, error) {
			if len(c.Profile.Files) == 0 {
				return "no files configured", nil
			}
			return "", nil
		},
		Run: func(ctx context.Context, t *target) error {
			for _, f := range c.Profile.Files {
				if err := c.pushFile(ctx, t.exec, f); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func (c *Controller) pushFile(ctx context.Context, ex remote.Executor, f profile.FileSpec) error {
	dest := f.Destination
	if !path.IsAbs(dest) {
		dest = path.Join(c.Profile.ProjectPath, dest)
	}
	src := f.Source
	if ageutil.Encrypted(src) {
		if c.Key == nil {
			return fmt.Errorf("decrypt %s: %w", src, ageutil.ErrNoKey)
		}
		plain, cleanup, err := c.Key.DecryptTemp(src)
		if err != nil {
			return err
		}
		defer cleanup()
		src = plain
	}
	c.printf("     %s\n", color.Dim(f.Source+" -> "+dest))
	return ex.Upload(ctx, src, dest)
}

func (c *Controller) authorizeKeyStep(key string) Step {
	sshDir := path.Join(c.homeDir(), ".ssh")
	authorized := path.Join(sshDir, "authorized_keys")
	owner := c.Profile.SystemUser + ":" + c.Profile.SystemUser
	return Step{
		Name:  "authorize-key",
		Roles: webAndDB,
		Run: func(ctx context.Context, t *target) error {
			if _, err := remote.Output(ctx, t.exec, "mkdir -p "+remote.Quote(sshDir), true); err != nil {
				return err
			}
			if err := t.exec.AppendLine(ctx, authorized, key, true); err != nil {
				return err
			}
			for _, cmd := range []string{
				fmt.Sprintf("chown %s %s", owner, remote.Quote(authorized)),
				"chmod 600 " + remote.Quote(authorized),
				fmt.Sprintf("chown %s %s", owner, remote.Quote(sshDir)),
				"chmod 700 " + remote.Quote(sshDir),
			} {
				if _, err := remote.Output(ctx, t.exec, cmd, true); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
