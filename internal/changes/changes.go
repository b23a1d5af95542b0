// Package changes decides which conditional deploy steps an upstream revision
// needs by classifying the paths it touches.
package changes

import (
	"context"
	"path"
	"strings"
)

// ChangeSet is the ordered list of paths that differ between the working
// copy and a fetched-but-unmerged upstream ref.
type ChangeSet []string

// Parse splits command output into a ChangeSet, dropping blank lines.
func Parse(output string) ChangeSet {
	var cs ChangeSet
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			cs = append(cs, line)
		}
	}
	return cs
}

// Empty reports whether nothing changed.
func (cs ChangeSet) Empty() bool { return len(cs) == 0 }

// Policy holds the patterns that flag dependency and stylesheet changes.
// Patterns are path.Match globs tested against each path's base name, or
// against the whole path when the pattern contains a slash.
type Policy struct {
	Dependencies []string
	Stylesheets  []string
	// RequirementsFile always counts as a dependency change.
	RequirementsFile string
}

// Flags are the booleans the controller branches on.
type Flags struct {
	DependenciesChanged bool
	StylesheetsChanged  bool
}

// Classify derives Flags from cs.
func (p Policy) Classify(cs ChangeSet) Flags {
	var f Flags
	for _, file := range cs {
		if !f.DependenciesChanged && (file == p.RequirementsFile || matchAny(p.Dependencies, file)) {
			f.DependenciesChanged = true
		}
		if !f.StylesheetsChanged && matchAny(p.Stylesheets, file) {
			f.StylesheetsChanged = true
		}
	}
	return f
}

func matchAny(patterns []string, file string) bool {
	for _, pattern := range patterns {
		subject := path.Base(file)
		if strings.Contains(pattern, "/") {
			subject = file
		}
		if ok, _ := path.Match(pattern, subject); ok {
			return true
		}
	}
	return false
}

// Source is the version-control view the detector needs.
type Source interface {
	// Fetch updates remote-tracking refs without touching the working copy.
	Fetch(ctx context.Context) error
	// ChangedFiles lists paths differing between the index and the fetched ref.
	ChangedFiles(ctx context.Context) ([]string, error)
}

// Detection is the outcome of Detect.
type Detection struct {
	Changes ChangeSet
	Flags
}

// Detect fetches upstream and classifies what changed.
func Detect(ctx context.Context, src Source, policy Policy) (Detection, error) {
	if err := src.Fetch(ctx); err != nil {
		return Detection{}, err
	}
	files, err := src.ChangedFiles(ctx)
	if err != nil {
		return Detection{}, err
	}
	cs := ChangeSet(files)
	return Detection{Changes: cs, Flags: policy.Classify(cs)}, nil
}
