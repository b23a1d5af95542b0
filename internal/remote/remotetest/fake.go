// Package remotetest provides a scripted in-memory remote.Executor for tests.
package remotetest

import (
	"context"
	"strings"
	"sync"

	"github.com/atomikpanda/djdeploy/internal/remote"
)

// Call records one executor operation.
type Call struct {
	Op       string // "run" | "exists" | "upload" | "append"
	Command  string // command for run, path for the others
	Elevated bool
	Line     string // appended line
	Source   string // upload source
}

// Response is what a matching Run returns.
type Response struct {
	Stdout     string
	ExitStatus int
	Err        error
}

type rule struct {
	match string
	resp  Response
}

// Fake is a remote.Session whose Run results are scripted by substring.
// Unmatched commands succeed with empty output.
type Fake struct {
	Name string

	mu        sync.Mutex
	rules     []rule
	paths     map[string]bool
	calls     []Call
	UploadErr error
	AppendErr error
}

var _ remote.Session = (*Fake)(nil)

// New returns a Fake reporting host as its name.
func New(host string) *Fake {
	return &Fake{Name: host, paths: make(map[string]bool)}
}

// On scripts the response for commands containing match. Earlier rules win.
func (f *Fake) On(match string, resp Response) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{match: match, resp: resp})
	return f
}

// WithPath marks path as existing.
func (f *Fake) WithPath(path string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths[path] = true
	return f
}

func (f *Fake) record(c Call) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
}

func (f *Fake) Host() string { return f.Name }

func (f *Fake) Close() error { return nil }

func (f *Fake) Run(ctx context.Context, command string, elevated bool) (remote.Result, error) {
	f.record(Call{Op: "run", Command: command, Elevated: elevated})
	res := remote.Result{Host: f.Name, Command: command}

	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.rules {
		if strings.Contains(command, r.match) {
			res.Stdout = r.resp.Stdout
			res.ExitStatus = r.resp.ExitStatus
			return res, r.resp.Err
		}
	}
	return res, nil
}

func (f *Fake) Exists(ctx context.Context, path string) (bool, error) {
	f.record(Call{Op: "exists", Command: path})
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paths[path], nil
}

func (f *Fake) Upload(ctx context.Context, localPath, remotePath string) error {
	f.record(Call{Op: "upload", Command: remotePath, Source: localPath})
	if f.UploadErr != nil {
		return &remote.TransferError{Host: f.Name, Op: "upload", Path: remotePath, Err: f.UploadErr}
	}
	return nil
}

func (f *Fake) AppendLine(ctx context.Context, remotePath, line string, elevated bool) error {
	f.record(Call{Op: "append", Command: remotePath, Line: line, Elevated: elevated})
	if f.AppendErr != nil {
		return &remote.TransferError{Host: f.Name, Op: "append", Path: remotePath, Err: f.AppendErr}
	}
	return nil
}

// Calls returns a copy of every recorded operation.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// Commands returns the commands passed to Run, in order.
func (f *Fake) Commands() []string {
	var cmds []string
	for _, c := range f.Calls() {
		if c.Op == "run" {
			cmds = append(cmds, c.Command)
		}
	}
	return cmds
}

// Ran reports whether any Run command contained substr.
func (f *Fake) Ran(substr string) bool {
	for _, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return true
		}
	}
	return false
}

// Index returns the position of the first Run command containing substr, or -1.
func (f *Fake) Index(substr string) int {
	for i, c := range f.Commands() {
		if strings.Contains(c, substr) {
			return i
		}
	}
	return -1
}

// Dialer hands out one Fake per host, creating them on demand.
type Dialer struct {
	mu       sync.Mutex
	Sessions map[string]*Fake
	DialErr  map[string]error
	// Setup, when set, scripts each newly created Fake.
	Setup func(*Fake)
}

func (d *Dialer) Dial(ctx context.Context, host string) (remote.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.DialErr[host]; err != nil {
		return nil, err
	}
	if d.Sessions == nil {
		d.Sessions = make(map[string]*Fake)
	}
	f, ok := d.Sessions[host]
	if !ok {
		f = New(host)
		if d.Setup != nil {
			d.Setup(f)
		}
		d.Sessions[host] = f
	}
	return f, nil
}

// Session returns the Fake for host, or nil if it was never dialled.
func (d *Dialer) Session(host string) *Fake {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Sessions[host]
}
