package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/atomikpanda/djdeploy/internal/template"
)

// File is a parsed deploy file.
type File struct {
	Path         string               `yaml:"-"`
	Default      string               `yaml:"default"`
	Environments map[string]yaml.Node `yaml:"environments"`

	shared yaml.Node
}

// Load reads and parses a deploy file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(path, data)
}

// Parse parses deploy file contents; path is used to resolve relative local
// paths (identity files, uploaded files).
func Parse(path string, data []byte) (*File, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse deploy file: %w", err)
	}
	f := &File{Path: path}
	if len(doc.Content) == 0 {
		return f, nil
	}
	if err := doc.Decode(f); err != nil {
		return nil, fmt.Errorf("parse deploy file: %w", err)
	}
	f.shared = doc
	return f, nil
}

// EnvironmentNames returns the declared environments, sorted.
func (f *File) EnvironmentNames() []string {
	names := make([]string, 0, len(f.Environments))
	for name := range f.Environments {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Select builds the profile for the named environment, falling back to the
// file's default when name is empty. On error the returned Profile is the
// zero value, never a partially populated one.
func (f *File) Select(name string) (Profile, error) {
	if name == "" {
		name = f.Default
	}
	if name == "" {
		return Profile{}, &ConfigurationError{Field: "environment", Reason: "no environment selected and no default in deploy file"}
	}
	env, ok := f.Environments[name]
	if !ok {
		return Profile{}, &ConfigurationError{
			Profile: name, Field: "environments",
			Reason: fmt.Sprintf("unknown environment (declared: %s)", strings.Join(f.EnvironmentNames(), ", ")),
		}
	}

	p := defaults()
	if len(f.shared.Content) > 0 {
		if err := f.shared.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("decode shared settings: %w", err)
		}
	}
	// An environment's role map replaces the shared one instead of merging.
	if hasKey(&env, "roles") {
		p.Roles = nil
	}
	if env.Kind == yaml.MappingNode {
		if err := env.Decode(&p); err != nil {
			return Profile{}, fmt.Errorf("decode environment %q: %w", name, err)
		}
	}

	siteURL, err := template.Render(p.SiteURL, map[string]any{"project": p.Project, "environment": name})
	if err != nil {
		return Profile{}, &ConfigurationError{Profile: name, Field: "site_url", Reason: err.Error()}
	}
	params := map[string]any{
		"project":     p.Project,
		"environment": name,
		"site_url":    siteURL,
	}
	// The passphrase is a literal secret; it is neither rendered nor allowed
	// into an error message.
	passphrase := p.Age.Passphrase
	p.Age.Passphrase = ""
	rendered, err := template.RenderValue(p, params)
	if err != nil {
		var terr *template.Error
		if errors.As(err, &terr) {
			return Profile{}, &ConfigurationError{Profile: name, Field: terr.Path, Reason: fmt.Sprintf("template %q: %v", terr.Template, terr.Err)}
		}
		return Profile{}, &ConfigurationError{Profile: name, Field: "templates", Reason: err.Error()}
	}
	rendered.Name = name
	rendered.Age.Passphrase = passphrase
	rendered.resolveLocalPaths(filepath.Dir(f.Path))

	if err := rendered.Validate(); err != nil {
		return Profile{}, err
	}
	return rendered, nil
}

func (p *Profile) resolveLocalPaths(base string) {
	for i, f := range p.SSH.IdentityFiles {
		p.SSH.IdentityFiles[i] = LocalPath(base, f)
	}
	if p.SSH.KnownHosts != "" {
		p.SSH.KnownHosts = LocalPath(base, p.SSH.KnownHosts)
	}
	if p.Age.Identity != "" {
		p.Age.Identity = LocalPath(base, p.Age.Identity)
	}
	for i := range p.Files {
		p.Files[i].Source = LocalPath(base, p.Files[i].Source)
	}
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
