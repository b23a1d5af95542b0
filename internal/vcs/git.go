// Package vcs drives git in a host's working copy through a remote.Executor.
package vcs

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/atomikpanda/djdeploy/internal/changes"
	"github.com/atomikpanda/djdeploy/internal/remote"
)

// Git operates on the working copy at Dir.
type Git struct {
	Exec      remote.Executor
	Dir       string
	RemoteRef string // "<remote>/<branch>"
}

var _ changes.Source = (*Git)(nil)

// New returns a Git for the working copy at dir tracking remoteRef.
func New(ex remote.Executor, dir, remoteRef string) *Git {
	return &Git{Exec: ex, Dir: dir, RemoteRef: remoteRef}
}

func (g *Git) remote() string {
	r, _, _ := strings.Cut(g.RemoteRef, "/")
	return r
}

func (g *Git) run(ctx context.Context, args string) (string, error) {
	return remote.Output(ctx, g.Exec, remote.InDir(g.Dir, "git "+args), false)
}

// Fetch updates remote-tracking refs without merging.
func (g *Git) Fetch(ctx context.Context) error {
	_, err := g.run(ctx, "fetch "+remote.Quote(g.remote()))
	return err
}

// ChangedFiles lists paths that differ between the index and RemoteRef.
func (g *Git) ChangedFiles(ctx context.Context) ([]string, error) {
	out, err := g.run(ctx, "diff-index --cached --name-only "+remote.Quote(g.RemoteRef))
	if err != nil {
		return nil, err
	}
	return changes.Parse(out), nil
}

// Merge merges RemoteRef into the working copy.
func (g *Git) Merge(ctx context.Context) error {
	_, err := g.run(ctx, "merge "+remote.Quote(g.RemoteRef))
	return err
}

// Purge removes compiled Python files and untracked files left by the
// previous revision.
func (g *Git) Purge(ctx context.Context) error {
	if _, err := remote.Output(ctx, g.Exec, remote.InDir(g.Dir, `find . -name "*.pyc" -delete`), false); err != nil {
		return err
	}
	_, err := g.run(ctx, "clean -df")
	return err
}

// IsCheckout reports whether Dir already holds a clone.
func (g *Git) IsCheckout(ctx context.Context) (bool, error) {
	return g.Exec.Exists(ctx, path.Join(g.Dir, ".git"))
}

// Clone clones repository into Dir. New host keys for the git server are
// accepted so the first clone does not block on a fingerprint prompt.
func (g *Git) Clone(ctx context.Context, repository string) error {
	dir := strings.TrimSuffix(g.Dir, "/")
	cmd := fmt.Sprintf("GIT_SSH_COMMAND=%s git clone %s %s",
		remote.Quote("ssh -o StrictHostKeyChecking=accept-new"),
		remote.Quote(repository), remote.Quote(path.Base(dir)))
	_, err := remote.Output(ctx, g.Exec, remote.InDir(path.Dir(dir), cmd), false)
	return err
}
