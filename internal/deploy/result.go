package deploy

import (
	"github.com/atomikpanda/djdeploy/internal/changes"
	"github.com/atomikpanda/djdeploy/internal/health"
)

// Result is the outcome of one host's run.
type Result struct {
	Host  string
	Roles []string
	State State

	Changes             changes.ChangeSet
	Updated             bool // upstream merged
	DependenciesUpdated bool
	AssetsRebuilt       bool
	Restarted           bool
	ProxyRestarted      bool
	Health              health.Status

	// Output holds what run-command and manage printed on this host.
	Output string
	Err    error
}

func (r *Result) advance(s State) {
	if s > r.State {
		r.State = s
	}
}

// Report aggregates one controller invocation.
type Report struct {
	RunID       string
	Command     string
	Environment string
	Hosts       []Result

	// Checked is set when the invocation ended with a health check.
	Checked bool
	Health  health.Report
}

// Host returns the result for name.
func (r Report) Host(name string) (Result, bool) {
	for _, res := range r.Hosts {
		if res.Host == name {
			return res, true
		}
	}
	return Result{}, false
}
