package main

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/atomikpanda/djdeploy/internal/ageutil"
	"github.com/atomikpanda/djdeploy/internal/audit"
	"github.com/atomikpanda/djdeploy/internal/profile"
	"github.com/atomikpanda/djdeploy/internal/remote"
)

const testDeployFile = `
project: shop
repository: git@git.example.com:shop.git
default: dev
environments:
  dev:
    site_url: SITE
    roles:
      web: [web1.dev]
      db: [web1.dev]
  prod:
    site_url: shop.example.com
    ssh:
      user: deployer
    roles:
      web: [web1.prod, web2.prod]
      db: [db1.prod]
  local:
    site_url: localhost:8000
    transport: local
    roles:
      web: [localhost]
`

// writeTestConfig writes a deploy file whose dev site points at siteURL.
func writeTestConfig(t *testing.T, siteURL string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy.yaml")
	content := strings.Replace(testDeployFile, "SITE", siteURL, 1)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HOME", t.TempDir())
	t.Setenv(ageutil.EnvIdentity, "")
	t.Setenv(ageutil.EnvPassphrase, "")
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func okServer(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestBuildRoot(t *testing.T) {
	root := buildRoot()
	if root == nil {
		t.Fatal("buildRoot() returned nil")
	}
	if root.Use != "djdeploy" {
		t.Errorf("Use = %q", root.Use)
	}

	names := make(map[string]bool)
	for _, cmd := range root.Commands() {
		names[cmd.Name()] = true
	}
	expected := []string{
		"use", "envs", "deploy", "update", "restart", "collect-assets", "sync-database",
		"requirements", "compile-assets", "push-files", "setup", "run-command", "manage",
		"check", "authorize-key", "log", "encrypt", "decrypt",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("missing subcommand %q", name)
		}
	}
}

func TestUseSavesSelection(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")

	out, err := execute(t, "-c", cfg, "use", "prod")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "using prod") {
		t.Errorf("output = %q", out)
	}
	sel, err := profile.LoadSelection(profile.SelectionPath(cfg))
	if err != nil {
		t.Fatal(err)
	}
	if sel.Environment != "prod" {
		t.Errorf("selection = %q, want prod", sel.Environment)
	}

	p, err := loadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "prod" {
		t.Errorf("loadProfile() = %q, want prod", p.Name)
	}
}

func TestUseUnknownEnvironment(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")

	_, err := execute(t, "-c", cfg, "use", "staging")
	var cerr *profile.ConfigurationError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want ConfigurationError", err)
	}
	if _, err := os.Stat(profile.SelectionPath(cfg)); !os.IsNotExist(err) {
		t.Error("selection written for unknown environment")
	}
}

func TestEnvFlagOverridesSelection(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	if err := profile.SaveSelection(profile.SelectionPath(cfg), "prod"); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, "-c", cfg, "envs")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "* prod") || !strings.Contains(out, "dev (default)") {
		t.Errorf("envs output = %q", out)
	}

	configFile, envName = cfg, "local"
	p, err := loadProfile()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name != "local" {
		t.Errorf("loadProfile() = %q, want local", p.Name)
	}
}

func TestNewDialer(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	f, err := profile.Load(cfg)
	if err != nil {
		t.Fatal(err)
	}
	selectEnv := func(name string) profile.Profile {
		p, err := f.Select(name)
		if err != nil {
			t.Fatal(err)
		}
		return p
	}

	dryRun = false
	if _, ok := newDialer(selectEnv("local"), nil, nil, nil).(remote.LocalDialer); !ok {
		t.Error("local transport should use LocalDialer")
	}

	d, ok := newDialer(selectEnv("dev"), nil, nil, nil).(*remote.SSHDialer)
	if !ok {
		t.Fatal("ssh transport should use SSHDialer")
	}
	if d.Config.User != "shop" {
		t.Errorf("User = %q, want system user shop", d.Config.User)
	}
	if d, _ := newDialer(selectEnv("prod"), nil, nil, nil).(*remote.SSHDialer); d.Config.User != "deployer" {
		t.Errorf("User = %q, want deployer", d.Config.User)
	}

	dryRun = true
	defer func() { dryRun = false }()
	if _, ok := newDialer(selectEnv("local"), nil, nil, nil).(remote.DryRunDialer); !ok {
		t.Error("dry run should win over transport")
	}
}

func TestKeyReader(t *testing.T) {
	dir := t.TempDir()
	plain := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(plain, []byte("PRIVATE KEY"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := keyReader(nil)(plain)
	if err != nil || string(got) != "PRIVATE KEY" {
		t.Fatalf("plain read = %q, %v", got, err)
	}

	key := &ageutil.Key{Passphrase: "hunter2"}
	enc := ageutil.EncryptedName(plain)
	if err := key.EncryptFile(plain, enc); err != nil {
		t.Fatal(err)
	}
	if _, err := keyReader(nil)(enc); !errors.Is(err, ageutil.ErrNoKey) {
		t.Errorf("err = %v, want ErrNoKey", err)
	}
	got, err = keyReader(key)(enc)
	if err != nil || string(got) != "PRIVATE KEY" {
		t.Errorf("decrypted read = %q, %v", got, err)
	}
}

func TestDryRunDeploy(t *testing.T) {
	cfg := writeTestConfig(t, okServer(t))
	metricsPath := filepath.Join(t.TempDir(), "djdeploy.prom")

	out, err := execute(t, "-c", cfg, "--dry-run", "--metrics-file", metricsPath, "deploy")
	if err != nil {
		t.Fatalf("deploy: %v\n%s", err, out)
	}
	for _, want := range []string{
		"==> web1.dev",
		"[dry-run] run: cd '/home/shop/shop/' && git fetch 'origin'",
		"skip merge (no upstream changes)",
		"supervisorctl restart all",
		"PASS HTTP/1.1 200 OK",
		"web1.dev",
		"verified",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	data, err := os.ReadFile(metricsPath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `djdeploy_site_up{environment="dev"} 1`) {
		t.Errorf("metrics file missing site_up:\n%s", data)
	}

	// Dry runs leave no history.
	hist, err := audit.Default()
	if err != nil {
		t.Fatal(err)
	}
	entries, err := hist.Read(audit.Filter{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("history has %d entries after dry run", len(entries))
	}
}

func TestCheckNeverFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	cfg := writeTestConfig(t, srv.URL)

	out, err := execute(t, "-c", cfg, "check")
	if err != nil {
		t.Fatalf("check returned %v", err)
	}
	if !strings.Contains(out, "FAIL HTTP/1.1 502 Bad Gateway") {
		t.Errorf("output = %q", out)
	}
}

func TestManageRequiresArgs(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	if _, err := execute(t, "-c", cfg, "--dry-run", "manage"); err == nil {
		t.Error("manage with no args should fail")
	}
}

func TestLogCommand(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	hist, err := audit.Default()
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range []audit.Entry{
		{RunID: "r1", Command: "deploy", Environment: "dev", Host: "web1.dev", Step: "fetch", Outcome: audit.Success},
		{RunID: "r1", Command: "deploy", Environment: "dev", Host: "web1.dev", Step: "merge", Outcome: audit.Failure, Error: "conflict"},
		{RunID: "r2", Command: "restart", Environment: "prod", Host: "web1.prod", Step: "restart", Outcome: audit.Success},
	} {
		if err := hist.Append(e); err != nil {
			t.Fatal(err)
		}
	}

	out, err := execute(t, "-c", cfg, "log", "--env-filter", "dev")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "merge") || !strings.Contains(out, "conflict") {
		t.Errorf("output missing dev entries:\n%s", out)
	}
	if strings.Contains(out, "web1.prod") {
		t.Errorf("filter leaked prod entry:\n%s", out)
	}
}

func TestEncryptDecrypt(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	t.Setenv(ageutil.EnvPassphrase, "hunter2")

	dir := t.TempDir()
	secret := filepath.Join(dir, "prod.env")
	if err := os.WriteFile(secret, []byte("SECRET_KEY=abc\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfg, "encrypt", secret); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(secret); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfg, "decrypt", secret+".age"); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(secret)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "SECRET_KEY=abc\n" {
		t.Errorf("round trip = %q", got)
	}

	if _, err := execute(t, "-c", cfg, "decrypt", secret); err == nil {
		t.Error("decrypt without .age suffix should fail")
	}
}

func TestEncryptWithoutKey(t *testing.T) {
	cfg := writeTestConfig(t, "shop.dev.example.com")
	file := filepath.Join(t.TempDir(), "x")
	if err := os.WriteFile(file, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := execute(t, "-c", cfg, "encrypt", file); !errors.Is(err, ageutil.ErrNoKey) {
		t.Errorf("err = %v, want ErrNoKey", err)
	}
}
