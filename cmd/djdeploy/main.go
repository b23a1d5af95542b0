package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/atomikpanda/djdeploy/internal/ageutil"
	"github.com/atomikpanda/djdeploy/internal/audit"
	"github.com/atomikpanda/djdeploy/internal/color"
	"github.com/atomikpanda/djdeploy/internal/deploy"
	"github.com/atomikpanda/djdeploy/internal/health"
	"github.com/atomikpanda/djdeploy/internal/metrics"
	"github.com/atomikpanda/djdeploy/internal/profile"
	"github.com/atomikpanda/djdeploy/internal/remote"
)

var (
	configFile  string
	envName     string
	dryRun      bool
	verbose     bool
	parallel    bool
	metricsFile string
)

func main() {
	color.Init()
	root := buildRoot()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "djdeploy",
		Short: "Deploy a Django application to its web and db hosts",
		Long: `djdeploy updates, builds and restarts a Django application on the hosts of
an environment declared in deploy.yaml, then checks that the site answers.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&configFile, "config", "c", "deploy.yaml", "path to deploy file")
	root.PersistentFlags().StringVarP(&envName, "env", "e", "", "environment to use (overrides the selected one)")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "print remote commands without executing them")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show changed files, skipped steps and debug logs")
	root.PersistentFlags().BoolVar(&parallel, "parallel", false, "run hosts concurrently")
	root.PersistentFlags().StringVar(&metricsFile, "metrics-file", "", "write Prometheus metrics to this textfile")

	root.AddCommand(
		useCmd(),
		envsCmd(),
		deployCmd(),
		updateCmd(),
		restartCmd(),
		taskCmd("collect-assets", "Collect static files on web hosts", (*deploy.Controller).CollectAssets),
		taskCmd("sync-database", "Synchronize the database schema on db hosts", (*deploy.Controller).SyncDatabase),
		taskCmd("requirements", "Install the requirements file on every host", (*deploy.Controller).Requirements),
		taskCmd("compile-assets", "Compile stylesheets on every host", (*deploy.Controller).CompileAssets),
		taskCmd("push-files", "Upload the files listed in the deploy file", (*deploy.Controller).PushFiles),
		taskCmd("setup", "Prepare hosts and run the first deploy", (*deploy.Controller).Setup),
		runCommandCmd(),
		manageCmd(),
		checkCmd(),
		authorizeKeyCmd(),
		logCmd(),
		encryptCmd(),
		decryptCmd(),
	)
	return root
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func loadDeployFile() (*profile.File, error) {
	f, err := profile.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load deploy file %q: %w", configFile, err)
	}
	return f, nil
}

// loadProfile selects the environment from --env, the saved selection or the
// deploy file's default, in that order.
func loadProfile() (profile.Profile, error) {
	f, err := loadDeployFile()
	if err != nil {
		return profile.Profile{}, err
	}
	name, err := profile.Resolve(envName, configFile)
	if err != nil {
		return profile.Profile{}, err
	}
	return f.Select(name)
}

func ageKey(p profile.Profile) *ageutil.Key {
	return ageutil.Resolve(p.Age.Identity, p.Age.Passphrase, os.Getenv)
}

func newDialer(p profile.Profile, key *ageutil.Key, out io.Writer, logger *slog.Logger) remote.Dialer {
	switch {
	case dryRun:
		return remote.DryRunDialer{Out: out}
	case p.Transport == profile.TransportLocal:
		return remote.LocalDialer{Logger: logger}
	}
	user := p.SSH.User
	if user == "" {
		user = p.SystemUser
	}
	return &remote.SSHDialer{
		Config: remote.SSHConfig{
			User:                  user,
			Port:                  p.SSH.Port,
			IdentityFiles:         p.SSH.IdentityFiles,
			KnownHostsFile:        p.SSH.KnownHosts,
			InsecureIgnoreHostKey: p.SSH.InsecureIgnoreHostKey,
			ConnectTimeout:        p.SSH.ConnectTimeout,
			ReadKey:               keyReader(key),
		},
		Logger: logger,
	}
}

// keyReader reads SSH identities, decrypting ".age" ones with key.
func keyReader(key *ageutil.Key) func(string) ([]byte, error) {
	return func(path string) ([]byte, error) {
		if !ageutil.Encrypted(path) {
			return os.ReadFile(path)
		}
		if key == nil {
			return nil, fmt.Errorf("decrypt %s: %w", path, ageutil.ErrNoKey)
		}
		return key.ReadFile(path)
	}
}

func newController(cmd *cobra.Command) (*deploy.Controller, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, err
	}
	out := cmd.OutOrStdout()
	logger := newLogger(cmd.ErrOrStderr())
	key := ageKey(p)

	c := deploy.New(p, newDialer(p, key, out, logger), health.NewChecker(p.Health.Timeout))
	c.Out = out
	c.Logger = logger
	c.Verbose = verbose
	c.Parallel = parallel
	c.Key = key
	if !dryRun {
		if hist, err := audit.Default(); err == nil {
			c.History = hist
		} else {
			logger.Warn("history disabled", "err", err)
		}
	}
	if metricsFile != "" {
		c.Metrics = metrics.New()
	}

	fmt.Fprintf(out, "%s %s %s\n", color.Bold("environment:"), color.BoldCyan(p.Name), color.Dim("("+p.SiteURL+")"))
	return c, nil
}

// finish prints the per-host summary and writes metrics. The operation's
// error always wins over a metrics write failure.
func finish(c *deploy.Controller, rep deploy.Report, err error) error {
	printReport(c.Out, rep)
	if metricsFile != "" {
		if werr := c.Metrics.WriteTextfile(metricsFile); werr != nil {
			c.Logger.Error("write metrics", "path", metricsFile, "err", werr)
		}
	}
	return err
}

func printReport(w io.Writer, rep deploy.Report) {
	if len(rep.Hosts) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s %s\n", color.Bold(rep.Command), color.Dim(rep.RunID))
	for _, res := range rep.Hosts {
		var did []string
		for _, f := range []struct {
			set  bool
			name string
		}{
			{res.Updated, "updated"},
			{res.DependenciesUpdated, "requirements"},
			{res.AssetsRebuilt, "assets"},
			{res.Restarted, "restarted"},
			{res.ProxyRestarted, "proxy"},
		} {
			if f.set {
				did = append(did, f.name)
			}
		}
		status := color.Green(res.State.String())
		if res.Err != nil {
			status = color.BoldRed("failed at " + res.State.String())
		}
		fmt.Fprintf(w, "  %-28s %s %s\n", res.Host, status, color.Dim(strings.Join(did, " ")))
	}
}

// runOp builds a controller and runs op with it.
func runOp(cmd *cobra.Command, op func(context.Context, *deploy.Controller) (deploy.Report, error)) error {
	c, err := newController(cmd)
	if err != nil {
		return err
	}
	rep, err := op(cmd.Context(), c)
	return finish(c, rep, err)
}

// --- use / envs --------------------------------------------------------------

func useCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "use [environment]",
		Aliases: []string{"select-environment"},
		Short:   "Select the environment used by later commands",
		Example: `  djdeploy use prod
  djdeploy use`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadDeployFile()
			if err != nil {
				return err
			}
			var name string
			if len(args) == 1 {
				name = args[0]
			} else {
				names := f.EnvironmentNames()
				if len(names) == 0 {
					return errors.New("deploy file declares no environments")
				}
				err := huh.NewSelect[string]().
					Title("Environment").
					Options(huh.NewOptions(names...)...).
					Value(&name).
					Run()
				if err != nil {
					return err
				}
			}
			// Selecting validates the whole profile before it is saved.
			p, err := f.Select(name)
			if err != nil {
				return err
			}
			if err := profile.SaveSelection(profile.SelectionPath(configFile), p.Name); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "using %s (%s)\n", color.BoldCyan(p.Name), p.SiteURL)
			return nil
		},
	}
}

func envsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "envs",
		Short: "List environments in the deploy file",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := loadDeployFile()
			if err != nil {
				return err
			}
			sel, err := profile.LoadSelection(profile.SelectionPath(configFile))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range f.EnvironmentNames() {
				marker := "  "
				if name == sel.Environment {
					marker = color.Green("* ")
				}
				note := ""
				if name == f.Default {
					note = color.Dim(" (default)")
				}
				fmt.Fprintf(out, "%s%s%s\n", marker, name, note)
			}
			return nil
		},
	}
}

// --- deploy / update / restart -----------------------------------------------

func deployCmd() *cobra.Command {
	var action deploy.Action
	cmd := &cobra.Command{
		Use:   "deploy",
		Short: "Update, collect assets, sync the database and restart",
		Long: `Full deploy. Updates the checkout on every host (installing requirements and
compiling stylesheets when they changed), collects static files on web hosts,
synchronizes the database on db hosts, restarts the web process and checks
the site.`,
		Example: `  djdeploy deploy
  djdeploy -e prod deploy --action force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.Deploy(ctx, action)
			})
		},
	}
	cmd.Flags().Var(&action, "action", "check|force|skip: when to run requirement and stylesheet steps")
	return cmd
}

func updateCmd() *cobra.Command {
	var action deploy.Action
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Fetch and merge upstream, then install what changed",
		Long: `Fetches the remote ref on every host. When nothing changed the update stops
there (unless --action force). Otherwise it merges, removes stale .pyc and
untracked files, and runs the requirement and stylesheet steps per --action.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.Update(ctx, action)
			})
		},
	}
	cmd.Flags().Var(&action, "action", "check|force|skip: when to run requirement and stylesheet steps")
	return cmd
}

func restartCmd() *cobra.Command {
	var hard bool
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the web process and check the site",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.Restart(ctx, hard)
			})
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "also restart the reverse proxy")
	return cmd
}

// taskCmd wraps a controller operation that takes no arguments.
func taskCmd(use, short string, op func(*deploy.Controller, context.Context) (deploy.Report, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return op(c, ctx)
			})
		},
	}
}

// --- run-command / manage ----------------------------------------------------

func runCommandCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-command [command...]",
		Short: "Run a shell command in the project directory with the virtualenv active",
		Example: `  djdeploy run-command -- du -sh media
  djdeploy run-command`,
		RunE: func(cmd *cobra.Command, args []string) error {
			line := strings.Join(args, " ")
			if strings.TrimSpace(line) == "" {
				if err := huh.NewInput().Title("Command to run").Value(&line).Run(); err != nil {
					return err
				}
			}
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.RunCommand(ctx, line)
			})
		},
	}
}

func manageCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "manage <args...>",
		Short:   "Run manage.py with the environment's settings module",
		Example: `  djdeploy manage -- migrate --fake-initial`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.Manage(ctx, args...)
			})
		},
	}
}

// --- check -------------------------------------------------------------------

func checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the site's home page answers 200 OK",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := loadProfile()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, color.BoldCyan("Checking site status..."))
			rep := health.NewChecker(p.Health.Timeout).Check(cmd.Context(), p.SiteURL)
			health.PrintBanner(out, rep)
			if metricsFile != "" {
				m := metrics.New()
				m.ObserveHealth(p.Name, rep.Passed())
				return m.WriteTextfile(metricsFile)
			}
			return nil
		},
	}
}

// --- authorize-key -----------------------------------------------------------

const defaultPublicKey = "~/.ssh/id_rsa.pub"

func authorizeKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "authorize-key [public-key-file]",
		Short: "Add a public key to the system user's authorized_keys on every host",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			} else {
				err := huh.NewInput().
					Title("Path to your public key").
					Placeholder(defaultPublicKey).
					Value(&path).
					Run()
				if err != nil {
					return err
				}
			}
			if strings.TrimSpace(path) == "" {
				path = defaultPublicKey
			}
			data, err := os.ReadFile(profile.ExpandPath(path))
			if err != nil {
				return fmt.Errorf("read public key: %w", err)
			}
			return runOp(cmd, func(ctx context.Context, c *deploy.Controller) (deploy.Report, error) {
				return c.AuthorizeKey(ctx, string(data))
			})
		},
	}
}

// --- log ---------------------------------------------------------------------

func logCmd() *cobra.Command {
	var filter audit.Filter
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "Show the deploy history",
		Example: `  djdeploy log
  djdeploy log --env prod --host web1.example.com
  djdeploy log --run 2f6c... --limit 0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hist, err := audit.Default()
			if err != nil {
				return err
			}
			entries, err := hist.Read(filter, limit)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "(no history)")
				return nil
			}

			fmt.Fprintln(out, color.Bold(fmt.Sprintf("%-19s  %-8s  %-14s  %-24s  %-16s  %s",
				"TIME", "ENV", "COMMAND", "HOST", "STEP", "OUTCOME")))
			fmt.Fprintln(out, color.Dim(strings.Repeat("-", 100)))
			for _, e := range entries {
				outcome := color.Outcome(e.Outcome, fmt.Sprintf("%-8s", e.Outcome))
				if e.Error != "" {
					outcome += " " + e.Error
				}
				fmt.Fprintf(out, "%-19s  %-8s  %-14s  %-24s  %-16s  %s\n",
					e.Time.Local().Format(time.DateTime), e.Environment, e.Command, e.Host, e.Step, outcome)
			}
			fmt.Fprintf(out, "\nlog: %s\n", hist.Path)
			return nil
		},
	}
	cmd.Flags().StringVar(&filter.Environment, "env-filter", "", "only entries for this environment")
	cmd.Flags().StringVar(&filter.Host, "host", "", "only entries for this host")
	cmd.Flags().StringVar(&filter.RunID, "run", "", "only entries for this run ID")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of entries to show (0 for all)")
	return cmd
}

// --- encrypt / decrypt -------------------------------------------------------

// keyFromDeployFile resolves the age key of the selected environment.
func keyFromDeployFile() (*ageutil.Key, error) {
	p, err := loadProfile()
	if err != nil {
		return nil, err
	}
	key := ageKey(p)
	if key == nil {
		return nil, ageutil.ErrNoKey
	}
	return key, nil
}

func encryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encrypt <file>",
		Short: "Encrypt a file with the configured age key (writes <file>.age)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFromDeployFile()
			if err != nil {
				return err
			}
			src := args[0]
			dst := ageutil.EncryptedName(src)
			fmt.Fprintf(cmd.OutOrStdout(), "encrypting %s -> %s\n", src, dst)
			return key.EncryptFile(src, dst)
		},
	}
}

func decryptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decrypt <file.age>",
		Short: "Decrypt an age-encrypted file (writes without the .age extension)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := keyFromDeployFile()
			if err != nil {
				return err
			}
			src := args[0]
			if !ageutil.Encrypted(src) {
				return fmt.Errorf("%s does not end in %s", src, ageutil.Suffix)
			}
			dst := ageutil.PlainName(src)
			fmt.Fprintf(cmd.OutOrStdout(), "decrypting %s -> %s\n", src, dst)
			return key.DecryptFile(src, dst)
		},
	}
}
