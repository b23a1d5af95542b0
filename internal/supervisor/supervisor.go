// Package supervisor controls the process supervisor that keeps the web
// application running, and the reverse proxy in front of it.
package supervisor

import (
	"context"
	"strings"

	"github.com/atomikpanda/djdeploy/internal/remote"
)

// notRunningMarker appears in the status output when the control socket is
// missing, which means the supervisor daemon itself is down.
const notRunningMarker = "no such file"

// Supervisor issues supervisorctl/supervisord commands on one host.
type Supervisor struct {
	Exec     remote.Executor
	Elevated bool

	Ctl    string // control client, e.g. "supervisorctl"
	Daemon string // daemon binary, e.g. "supervisord"
	Config string // daemon config path, passed with -c

	// RestartCommand restarts every managed program. Empty means
	// Ctl + " restart all".
	RestartCommand string
}

// Status is the parsed result of a status query.
type Status struct {
	Running bool
	Output  string
}

// Status queries the supervisor. A non-zero exit is expected when programs
// are stopped, so only the output decides whether the daemon is up.
func (s *Supervisor) Status(ctx context.Context) (Status, error) {
	res, err := s.Exec.Run(ctx, s.Ctl+" status", s.Elevated)
	if err != nil {
		return Status{}, err
	}
	out := strings.TrimSpace(res.Stdout + "\n" + res.Stderr)
	return Status{
		Running: !strings.Contains(strings.ToLower(out), notRunningMarker),
		Output:  out,
	}, nil
}

// Start launches the supervisor daemon.
func (s *Supervisor) Start(ctx context.Context) error {
	cmd := s.Daemon
	if s.Config != "" {
		cmd += " -c " + remote.Quote(s.Config)
	}
	_, err := remote.Output(ctx, s.Exec, cmd, s.Elevated)
	return err
}

// RestartAll restarts every program the supervisor manages.
func (s *Supervisor) RestartAll(ctx context.Context) error {
	cmd := s.RestartCommand
	if cmd == "" {
		cmd = s.Ctl + " restart all"
	}
	_, err := remote.Output(ctx, s.Exec, cmd, s.Elevated)
	return err
}

// Outcome reports which path Restart took.
type Outcome struct {
	Started bool // daemon was down and has been started
}

// Restart starts the daemon when it is down and restarts all programs
// otherwise. Calling it twice leaves the service running either way.
func (s *Supervisor) Restart(ctx context.Context) (Outcome, error) {
	st, err := s.Status(ctx)
	if err != nil {
		return Outcome{}, err
	}
	if !st.Running {
		return Outcome{Started: true}, s.Start(ctx)
	}
	return Outcome{}, s.RestartAll(ctx)
}

// Proxy is the front-end reverse proxy.
type Proxy struct {
	Exec           remote.Executor
	RestartCommand string
}

// Restart restarts the proxy. Service control always needs root.
func (p *Proxy) Restart(ctx context.Context) error {
	_, err := remote.Output(ctx, p.Exec, p.RestartCommand, true)
	return err
}
