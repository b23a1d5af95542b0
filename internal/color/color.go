// Package color wraps deploy output in ANSI escapes when stdout is a
// terminal. Every helper returns its input unchanged while Enabled is false.
package color

import (
	"os"

	"golang.org/x/term"
)

// Enabled turns escapes on. Init sets it from the environment.
var Enabled bool

// Init enables colour when stdout is a terminal, unless NO_COLOR is set or
// TERM is dumb. CLICOLOR_FORCE enables it for piped output, which is how CI
// logs keep their colours.
func Init() {
	Enabled = detect(os.Getenv, int(os.Stdout.Fd()))
}

func detect(getenv func(string) string, fd int) bool {
	switch {
	case getenv("NO_COLOR") != "":
		return false
	case getenv("CLICOLOR_FORCE") != "" && getenv("CLICOLOR_FORCE") != "0":
		return true
	case getenv("TERM") == "dumb":
		return false
	}
	return term.IsTerminal(fd)
}

func wrap(code, s string) string {
	if !Enabled || s == "" {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func Bold(s string) string      { return wrap("1", s) }
func Dim(s string) string       { return wrap("2", s) }
func Red(s string) string       { return wrap("31", s) }
func Green(s string) string     { return wrap("32", s) }
func Yellow(s string) string    { return wrap("33", s) }
func Cyan(s string) string      { return wrap("36", s) }
func BoldRed(s string) string   { return wrap("1;31", s) }
func BoldGreen(s string) string { return wrap("1;32", s) }
func BoldCyan(s string) string  { return wrap("1;36", s) }

// Outcome colours a step outcome label: green for success, red for failure,
// dim for skipped. label is printed as given so callers can pad it first.
func Outcome(outcome, label string) string {
	switch outcome {
	case "success":
		return Green(label)
	case "failure":
		return BoldRed(label)
	case "skipped":
		return Dim(label)
	}
	return label
}
