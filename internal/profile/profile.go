// Package profile loads deploy files and selects environment profiles.
//
// A deploy file holds shared settings plus one block per environment
// (prod, dev, local, ...). Selecting an environment layers built-in defaults,
// the shared settings and the environment block into a new Profile value.
// A Profile is never mutated after selection; selecting another environment
// yields another value, so fields cannot leak between environments.
//
// String fields are Go templates over .project, .environment and .site_url.
// A literal "{{" meant for the remote shell has to be quoted as a template
// string, for example:
//
//	run: docker ps --format {{ "{{.Names}}" }}
package profile

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// Well-known roles.
const (
	RoleWeb = "web"
	RoleDB  = "db"
)

// Transports.
const (
	TransportSSH   = "ssh"
	TransportLocal = "local"
)

// Profile is the complete configuration for one deployment target.
type Profile struct {
	Name string `yaml:"-"`

	Project          string              `yaml:"project"`
	Repository       string              `yaml:"repository"`
	RemoteRef        string              `yaml:"remote_ref"` // "<remote>/<branch>"
	SiteURL          string              `yaml:"site_url"`
	Roles            map[string][]string `yaml:"roles"`
	SystemUser       string              `yaml:"system_user"`
	ProjectPath      string              `yaml:"project_path"`
	VenvPath         string              `yaml:"venv_path"`
	RequirementsFile string              `yaml:"requirements_file"` // relative to ProjectPath
	DjangoSettings   string              `yaml:"django_settings"`
	RestartCommand   string              `yaml:"restart_command"`
	// RequiresPrivilege runs supervisor commands through sudo.
	RequiresPrivilege bool   `yaml:"requires_privilege"`
	Transport         string `yaml:"transport"`

	Supervisor Supervisor `yaml:"supervisor"`
	Proxy      Proxy      `yaml:"proxy"`
	Assets     Assets     `yaml:"assets"`
	Database   Database   `yaml:"database"`
	Detection  Detection  `yaml:"detection"`
	SSH        SSH        `yaml:"ssh"`
	Health     Health     `yaml:"health"`
	Age        Age        `yaml:"age"`
	Files      []FileSpec `yaml:"files"`
}

type Supervisor struct {
	Ctl    string `yaml:"ctl"`
	Daemon string `yaml:"daemon"`
	Config string `yaml:"config"`
}

type Proxy struct {
	RestartCommand string `yaml:"restart_command"`
}

type Assets struct {
	// StyleConfig is the stylesheet build config, relative to ProjectPath.
	// Empty disables the asset-build step.
	StyleConfig    string `yaml:"style_config"`
	BuildCommand   string `yaml:"build_command"`
	CollectCommand string `yaml:"collect_command"`
}

type Database struct {
	SyncCommand string `yaml:"sync_command"`
}

// Detection holds base-name glob patterns used to classify changed paths.
type Detection struct {
	Dependencies []string `yaml:"dependencies"`
	Stylesheets  []string `yaml:"stylesheets"`
}

type SSH struct {
	User                  string        `yaml:"user"`
	Port                  int           `yaml:"port"`
	IdentityFiles         []string      `yaml:"identity_files"`
	KnownHosts            string        `yaml:"known_hosts"`
	InsecureIgnoreHostKey bool          `yaml:"insecure_ignore_host_key"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
}

type Health struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Age configures decryption of ".age" files listed under Files.
type Age struct {
	Identity   string `yaml:"identity"`
	Passphrase string `yaml:"passphrase"`
}

// FileSpec is a local file uploaded to the host during setup and push-files.
// Sources ending in ".age" are decrypted first.
type FileSpec struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
}

// defaults mirrors the conventions of the classic Django/Fabric layout:
// one system user per project, code under /home/<project>/<project>/ and a
// virtualenvwrapper-style venv.
func defaults() Profile {
	return Profile{
		RemoteRef:         "origin/master",
		SystemUser:        "{{ .project }}",
		ProjectPath:       "/home/{{ .project }}/{{ .project }}/",
		VenvPath:          "/home/{{ .project }}/.virtualenvs/{{ .project }}",
		RequirementsFile:  "requirements/{{ .environment }}.pip",
		DjangoSettings:    "{{ .project }}.settings.{{ .environment }}",
		RequiresPrivilege: true,
		Transport:         TransportSSH,
		Supervisor: Supervisor{
			Ctl:    "supervisorctl",
			Daemon: "supervisord",
		},
		Proxy: Proxy{RestartCommand: "service nginx restart"},
		Assets: Assets{
			StyleConfig:    "conf/common/compass.rb",
			BuildCommand:   "compass compile --time --boring -c",
			CollectCommand: "collectstatic --link --noinput -v0",
		},
		Database: Database{SyncCommand: "syncdb --migrate --noinput"},
		Detection: Detection{
			Dependencies: []string{"*.pip", "requirements*.txt"},
			Stylesheets:  []string{"*.scss", "*.sass"},
		},
		SSH:    SSH{Port: 22, ConnectTimeout: 30 * time.Second},
		Health: Health{Timeout: 10 * time.Second},
	}
}

// Remote returns the remote half of RemoteRef ("origin" for "origin/master").
func (p Profile) Remote() string {
	remote, _, _ := strings.Cut(p.RemoteRef, "/")
	return remote
}

// Branch returns the branch half of RemoteRef.
func (p Profile) Branch() string {
	_, branch, _ := strings.Cut(p.RemoteRef, "/")
	return branch
}

// EffectiveRestartCommand returns RestartCommand, defaulting to a
// restart-all through the supervisor control tool.
func (p Profile) EffectiveRestartCommand() string {
	if p.RestartCommand != "" {
		return p.RestartCommand
	}
	return p.Supervisor.Ctl + " restart all"
}

// Hosts returns the deduplicated hosts of the given roles in declaration
// order. Referencing a role the profile does not declare is a
// ConfigurationError.
func (p Profile) Hosts(roles ...string) ([]string, error) {
	if err := p.requireSelected(); err != nil {
		return nil, err
	}
	var hosts []string
	for _, role := range roles {
		members, ok := p.Roles[role]
		if !ok {
			return nil, &ConfigurationError{Profile: p.Name, Field: "roles." + role, Reason: "role not declared"}
		}
		for _, h := range members {
			if !slices.Contains(hosts, h) {
				hosts = append(hosts, h)
			}
		}
	}
	return hosts, nil
}

// RolesOf returns every role host belongs to, sorted.
func (p Profile) RolesOf(host string) []string {
	var roles []string
	for role, members := range p.Roles {
		if slices.Contains(members, host) {
			roles = append(roles, role)
		}
	}
	slices.Sort(roles)
	return roles
}

func (p Profile) requireSelected() error {
	if p.Name == "" {
		return &ConfigurationError{Field: "environment", Reason: "no environment selected"}
	}
	return nil
}

// Validate reports every missing or invalid field at once.
func (p Profile) Validate() error {
	if err := p.requireSelected(); err != nil {
		return err
	}
	var result *multierror.Error
	missing := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			result = multierror.Append(result, &ConfigurationError{Profile: p.Name, Field: field, Reason: "not set"})
		}
	}
	missing("project", p.Project)
	missing("site_url", p.SiteURL)
	missing("project_path", p.ProjectPath)
	missing("venv_path", p.VenvPath)
	missing("remote_ref", p.RemoteRef)

	if p.RemoteRef != "" && (p.Remote() == "" || p.Branch() == "") {
		result = multierror.Append(result, &ConfigurationError{
			Profile: p.Name, Field: "remote_ref",
			Reason: fmt.Sprintf("%q is not of the form <remote>/<branch>", p.RemoteRef),
		})
	}
	if len(p.Roles) == 0 {
		result = multierror.Append(result, &ConfigurationError{Profile: p.Name, Field: "roles", Reason: "no roles declared"})
	}
	for role, hosts := range p.Roles {
		if len(hosts) == 0 {
			result = multierror.Append(result, &ConfigurationError{Profile: p.Name, Field: "roles." + role, Reason: "no hosts"})
		}
	}
	switch p.Transport {
	case TransportSSH, TransportLocal:
	default:
		result = multierror.Append(result, &ConfigurationError{
			Profile: p.Name, Field: "transport",
			Reason: fmt.Sprintf("unknown transport %q (want ssh or local)", p.Transport),
		})
	}
	return result.ErrorOrNil()
}
