package vcs

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/atomikpanda/djdeploy/internal/remote"
	"github.com/atomikpanda/djdeploy/internal/remote/remotetest"
)

func TestFetch(t *testing.T) {
	fake := remotetest.New("web1")
	g := New(fake, "/home/shop/shop/", "origin/master")
	if err := g.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}
	want := []string{"cd '/home/shop/shop/' && git fetch 'origin'"}
	if got := fake.Commands(); !slices.Equal(got, want) {
		t.Errorf("commands = %q, want %q", got, want)
	}
}

func TestChangedFiles(t *testing.T) {
	fake := remotetest.New("web1").On("diff-index", remotetest.Response{
		Stdout: "requirements/base.pip\nshop/views.py\n",
	})
	g := New(fake, "/srv/shop", "origin/master")
	files, err := g.ChangedFiles(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(files, []string{"requirements/base.pip", "shop/views.py"}) {
		t.Errorf("files = %v", files)
	}
	if !fake.Ran("git diff-index --cached --name-only 'origin/master'") {
		t.Errorf("unexpected commands: %q", fake.Commands())
	}
}

func TestMergeFailureIsCommandError(t *testing.T) {
	fake := remotetest.New("web1").On("git merge", remotetest.Response{
		Stdout: "CONFLICT (content)", ExitStatus: 1,
	})
	g := New(fake, "/srv/shop", "origin/master")
	err := g.Merge(context.Background())
	var cmdErr *remote.CommandError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("Merge() = %v, want *CommandError", err)
	}
	if cmdErr.Output != "CONFLICT (content)" {
		t.Errorf("Output = %q", cmdErr.Output)
	}
}

func TestPurge(t *testing.T) {
	fake := remotetest.New("web1")
	g := New(fake, "/srv/shop", "origin/master")
	if err := g.Purge(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fake.Index(`find . -name "*.pyc" -delete`) != 0 || fake.Index("git clean -df") != 1 {
		t.Errorf("commands = %q", fake.Commands())
	}
}

func TestIsCheckout(t *testing.T) {
	fake := remotetest.New("web1").WithPath("/srv/shop/.git")
	g := New(fake, "/srv/shop/", "origin/master")
	ok, err := g.IsCheckout(context.Background())
	if err != nil || !ok {
		t.Errorf("IsCheckout() = %v, %v", ok, err)
	}
}

func TestClone(t *testing.T) {
	fake := remotetest.New("web1")
	g := New(fake, "/home/shop/shop/", "origin/master")
	if err := g.Clone(context.Background(), "git@git.example.com:shop.git"); err != nil {
		t.Fatal(err)
	}
	want := "cd '/home/shop' && GIT_SSH_COMMAND='ssh -o StrictHostKeyChecking=accept-new' git clone 'git@git.example.com:shop.git' 'shop'"
	if got := fake.Commands(); len(got) != 1 || got[0] != want {
		t.Errorf("commands = %q, want %q", got, want)
	}
}
