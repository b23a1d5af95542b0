// Package deploy sequences the deployment state machine across the hosts of
// a selected profile.
//
// Every operation builds a plan: the roles it targets and an ordered list of
// steps. Each step declares the roles it applies to and is a no-op on other
// hosts. Each host runs the plan as its own strictly sequential run. The
// first failing step aborts that host's run and its error is returned as is.
// Operations that end in a health check run it exactly once, after every
// host finished, whatever happened before.
package deploy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/atomikpanda/djdeploy/internal/ageutil"
	"github.com/atomikpanda/djdeploy/internal/audit"
	"github.com/atomikpanda/djdeploy/internal/changes"
	"github.com/atomikpanda/djdeploy/internal/color"
	"github.com/atomikpanda/djdeploy/internal/health"
	"github.com/atomikpanda/djdeploy/internal/metrics"
	"github.com/atomikpanda/djdeploy/internal/profile"
	"github.com/atomikpanda/djdeploy/internal/remote"
	"github.com/atomikpanda/djdeploy/internal/supervisor"
	"github.com/atomikpanda/djdeploy/internal/vcs"
	"github.com/atomikpanda/djdeploy/internal/webapp"
)

// HealthChecker performs the final site check.
type HealthChecker interface {
	Check(ctx context.Context, siteURL string) health.Report
}

// History receives one entry per executed or skipped step.
type History interface {
	Append(audit.Entry) error
}

// Controller runs deploy operations for one selected profile.
type Controller struct {
	Profile profile.Profile
	Dialer  remote.Dialer
	Checker HealthChecker

	Out      io.Writer
	Logger   *slog.Logger
	Verbose  bool
	Parallel bool // run hosts concurrently

	RunID   string
	History History           // optional
	Metrics *metrics.Recorder // optional
	Key     *ageutil.Key      // decrypts ".age" files for upload

	mu sync.Mutex
}

// New returns a Controller writing to stdout with a fresh run ID.
func New(p profile.Profile, dialer remote.Dialer, checker HealthChecker) *Controller {
	return &Controller{
		Profile: p,
		Dialer:  dialer,
		Checker: checker,
		Out:     os.Stdout,
		Logger:  slog.Default(),
		RunID:   uuid.NewString(),
	}
}

type plan struct {
	command string
	roles   []string
	steps   []Step
	verify  bool

	action Action
	hard   bool
}

// target is the per-host working state shared by a plan's steps.
type target struct {
	exec   remote.Executor
	git    *vcs.Git
	app    *webapp.App
	sup    *supervisor.Supervisor
	proxy  *supervisor.Proxy
	res    *Result
	action Action
	hard   bool

	detection changes.Detection
	unchanged bool // update short-circuited
}

func (c *Controller) newTarget(ex remote.Executor, res *Result, pl plan) *target {
	p := c.Profile
	return &target{
		exec: ex,
		git:  vcs.New(ex, p.ProjectPath, p.RemoteRef),
		app: &webapp.App{
			Exec:             ex,
			ProjectPath:      p.ProjectPath,
			VenvPath:         p.VenvPath,
			Settings:         p.DjangoSettings,
			RequirementsFile: p.RequirementsFile,
		},
		sup: &supervisor.Supervisor{
			Exec:           ex,
			Elevated:       p.RequiresPrivilege,
			Ctl:            p.Supervisor.Ctl,
			Daemon:         p.Supervisor.Daemon,
			Config:         p.Supervisor.Config,
			RestartCommand: p.EffectiveRestartCommand(),
		},
		proxy:  &supervisor.Proxy{Exec: ex, RestartCommand: p.Proxy.RestartCommand},
		res:    res,
		action: pl.action,
		hard:   pl.hard,
	}
}

// execute validates the profile, runs pl on every targeted host and, when
// pl.verify is set, finishes with the single health check.
func (c *Controller) execute(ctx context.Context, pl plan) (Report, error) {
	rep := Report{RunID: c.RunID, Command: pl.command, Environment: c.Profile.Name}
	if err := c.Profile.Validate(); err != nil {
		return rep, err
	}
	hosts, err := c.targets(pl.roles)
	if err != nil {
		return rep, err
	}
	c.logger().Debug("run plan", "command", pl.command, "env", c.Profile.Name, "hosts", hosts, "run_id", c.RunID)

	rep.Hosts, err = c.runHosts(ctx, hosts, pl)
	if pl.verify {
		c.verify(ctx, &rep)
	}
	c.Metrics.ObserveRun(c.Profile.Name, pl.command, err)
	return rep, err
}

// targets resolves the hosts of the roles the profile declares. Roles the
// profile leaves out have no hosts to run on.
func (c *Controller) targets(roles []string) ([]string, error) {
	var declared []string
	for _, r := range roles {
		if _, ok := c.Profile.Roles[r]; ok {
			declared = append(declared, r)
		}
	}
	if len(declared) == 0 {
		return nil, &profile.ConfigurationError{
			Profile: c.Profile.Name,
			Field:   "roles",
			Reason:  fmt.Sprintf("none of %s declared", strings.Join(roles, ", ")),
		}
	}
	return c.Profile.Hosts(declared...)
}

func (c *Controller) runHosts(ctx context.Context, hosts []string, pl plan) ([]Result, error) {
	if !c.Parallel {
		var results []Result
		for _, h := range hosts {
			res := c.runHost(ctx, h, pl)
			results = append(results, res)
			if res.Err != nil {
				return results, res.Err
			}
		}
		return results, nil
	}

	results := make([]Result, len(hosts))
	var g multierror.Group
	for i, h := range hosts {
		g.Go(func() error {
			results[i] = c.runHost(ctx, h, pl)
			return results[i].Err
		})
	}
	return results, g.Wait().ErrorOrNil()
}

func (c *Controller) runHost(ctx context.Context, host string, pl plan) Result {
	res := Result{Host: host, Roles: c.Profile.RolesOf(host)}
	c.printf("\n==> %s %s\n", color.BoldCyan(host), color.Dim("["+strings.Join(res.Roles, ", ")+"]"))

	sess, err := c.Dialer.Dial(ctx, host)
	if err != nil {
		res.Err = fmt.Errorf("connect %s: %w", host, err)
		c.printf("  %s %v\n", color.BoldRed("x"), res.Err)
		c.record(pl.command, host, "connect", audit.Failure, 0, res.Err)
		return res
	}
	defer sess.Close()

	t := c.newTarget(sess, &res, pl)
	for _, st := range pl.steps {
		if !st.appliesTo(res.Roles) {
			if c.Verbose {
				c.printf("  %s\n", color.Dim(fmt.Sprintf("skip %s (not a %s host)", st.Name, strings.Join(st.Roles, "/"))))
			}
			res.advance(st.Reaches)
			continue
		}

		start := time.Now()
		if st.Skip != nil {
			reason, err := st.Skip(ctx, t)
			if err != nil {
				return c.fail(pl, t, st, err, start)
			}
			if reason != "" {
				c.printf("  %s\n", color.Dim(fmt.Sprintf("skip %s (%s)", st.Name, reason)))
				c.record(pl.command, host, st.Name, audit.Skipped, 0, nil)
				res.advance(st.Reaches)
				continue
			}
		}

		c.printf("  %s %s\n", color.Cyan("->"), st.Name)
		c.logger().Debug("step", "host", host, "step", st.Name)
		if err := st.Run(ctx, t); err != nil {
			return c.fail(pl, t, st, err, start)
		}
		c.record(pl.command, host, st.Name, audit.Success, time.Since(start), nil)
		res.advance(st.Reaches)
	}
	if res.State > Pending {
		c.printf("  %s %s\n", color.Green("ok"), color.Dim(res.State.String()))
	}
	return res
}

func (c *Controller) fail(pl plan, t *target, st Step, err error, start time.Time) Result {
	t.res.Err = err
	c.printf("  %s %s: %v\n", color.BoldRed("x"), st.Name, err)
	c.record(pl.command, t.res.Host, st.Name, audit.Failure, time.Since(start), err)
	return *t.res
}

// verify runs the health check once and stamps every host with its status.
// It never fails the invocation.
func (c *Controller) verify(ctx context.Context, rep *Report) {
	c.printf("\n%s\n", color.BoldCyan("Checking site status..."))
	hr := c.Checker.Check(ctx, c.Profile.SiteURL)

	var buf bytes.Buffer
	health.PrintBanner(&buf, hr)
	c.printf("%s", buf.String())

	rep.Checked = true
	rep.Health = hr
	for i := range rep.Hosts {
		rep.Hosts[i].Health = hr.Status
		if rep.Hosts[i].Err == nil {
			rep.Hosts[i].advance(Verified)
		}
	}

	outcome := audit.Success
	var herr error
	if !hr.Passed() {
		outcome = audit.Failure
		herr = fmt.Errorf("%s: %s", hr.URL, failReason(hr))
	}
	c.record(rep.Command, "", "health-check", outcome, 0, herr)
	c.Metrics.ObserveHealth(c.Profile.Name, hr.Passed())
}

func failReason(hr health.Report) string {
	if hr.Err != nil {
		return hr.Err.Error()
	}
	if hr.StatusLine != "" {
		return hr.StatusLine
	}
	return "no response"
}

func (c *Controller) record(command, host, step, outcome string, d time.Duration, err error) {
	c.Metrics.ObserveStep(c.Profile.Name, host, step, outcome, d)
	if c.History == nil {
		return
	}
	e := audit.Entry{
		RunID:       c.RunID,
		Command:     command,
		Environment: c.Profile.Name,
		Host:        host,
		Step:        step,
		Outcome:     outcome,
	}
	if err != nil {
		e.Error = err.Error()
	}
	if werr := c.History.Append(e); werr != nil {
		c.logger().Warn("history append failed", "err", werr)
	}
}

func (c *Controller) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	fmt.Fprintf(out, format, args...)
}

func (c *Controller) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// homeDir is the system user's home, the parent of the project checkout.
func (c *Controller) homeDir() string {
	return path.Dir(strings.TrimSuffix(c.Profile.ProjectPath, "/"))
}
