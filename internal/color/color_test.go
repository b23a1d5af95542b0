package color

import (
	"os"
	"testing"
)

func TestDisabledPassesThrough(t *testing.T) {
	Enabled = false
	for _, fn := range []func(string) string{Bold, Dim, BoldRed, BoldCyan} {
		if got := fn("web1"); got != "web1" {
			t.Errorf("got %q with colour disabled", got)
		}
	}
}

func TestEscapes(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()

	tests := []struct {
		name string
		fn   func(string) string
		want string
	}{
		{"Bold", Bold, "\x1b[1mx\x1b[0m"},
		{"Dim", Dim, "\x1b[2mx\x1b[0m"},
		{"Red", Red, "\x1b[31mx\x1b[0m"},
		{"Yellow", Yellow, "\x1b[33mx\x1b[0m"},
		{"BoldCyan", BoldCyan, "\x1b[1;36mx\x1b[0m"},
		{"BoldGreen", BoldGreen, "\x1b[1;32mx\x1b[0m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn("x"); got != tt.want {
				t.Errorf("%s() = %q, want %q", tt.name, got, tt.want)
			}
		})
	}

	if got := Bold(""); got != "" {
		t.Errorf("Bold(\"\") = %q, want empty", got)
	}
}

func TestOutcome(t *testing.T) {
	Enabled = true
	defer func() { Enabled = false }()

	tests := []struct {
		outcome string
		want    string
	}{
		{"success", "\x1b[32mok\x1b[0m"},
		{"failure", "\x1b[1;31mok\x1b[0m"},
		{"skipped", "\x1b[2mok\x1b[0m"},
		{"other", "ok"},
	}
	for _, tt := range tests {
		if got := Outcome(tt.outcome, "ok"); got != tt.want {
			t.Errorf("Outcome(%q) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	env := func(vals map[string]string) func(string) string {
		return func(k string) string { return vals[k] }
	}
	tests := []struct {
		name string
		env  map[string]string
		fd   int
		want bool
	}{
		{"no color", map[string]string{"NO_COLOR": "1"}, int(os.Stdout.Fd()), false},
		{"dumb terminal", map[string]string{"TERM": "dumb"}, int(os.Stdout.Fd()), false},
		{"not a terminal", nil, -1, false},
		{"forced", map[string]string{"CLICOLOR_FORCE": "1"}, -1, true},
		{"forced off", map[string]string{"CLICOLOR_FORCE": "0"}, -1, false},
		{"no color beats force", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, -1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := detect(env(tt.env), tt.fd); got != tt.want {
				t.Errorf("detect() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitNoColor(t *testing.T) {
	t.Setenv("NO_COLOR", "1")
	Enabled = true
	Init()
	if Enabled {
		t.Error("Init() should not enable colour when NO_COLOR is set")
	}
}
