package template

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		params map[string]any
		want   string
	}{
		{"simple", "/home/{{ .project }}", map[string]any{"project": "shop"}, "/home/shop"},
		{"multiple", "{{ .project }}.settings.{{ .environment }}", map[string]any{"project": "shop", "environment": "prod"}, "shop.settings.prod"},
		{"no template", "plain text", map[string]any{"x": "y"}, "plain text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Render(tt.input, tt.params)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRenderMissingKey(t *testing.T) {
	_, err := Render("/home/{{ .projcet }}", map[string]any{"project": "shop"})
	if err == nil {
		t.Error("expected error for unknown key")
	}
}

func TestRenderInvalidTemplate(t *testing.T) {
	_, err := Render("{{ .bad", nil)
	if err == nil {
		t.Error("expected error for invalid template")
	}
}

type sample struct {
	Path    string            `yaml:"path"`
	Command string            `yaml:"command"`
	Hosts   []string          `yaml:"hosts"`
	Roles   map[string]string `yaml:"roles"`
	Timeout time.Duration     `yaml:"timeout"`
	Enabled bool              `yaml:"enabled"`
}

func TestRenderValue(t *testing.T) {
	in := sample{
		Path:    "/home/{{ .project }}/{{ .project }}/",
		Command: "supervisorctl restart {{ .project }}",
		Hosts:   []string{"{{ .site_url }}"},
		Roles:   map[string]string{"web": "{{ .site_url }}"},
		Timeout: 5 * time.Second,
		Enabled: true,
	}
	params := map[string]any{"project": "shop", "site_url": "shop.example.com"}
	got, err := RenderValue(in, params)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != "/home/shop/shop/" {
		t.Errorf("Path = %q", got.Path)
	}
	if got.Command != "supervisorctl restart shop" {
		t.Errorf("Command = %q", got.Command)
	}
	if len(got.Hosts) != 1 || got.Hosts[0] != "shop.example.com" {
		t.Errorf("Hosts = %v", got.Hosts)
	}
	if got.Roles["web"] != "shop.example.com" {
		t.Errorf("Roles = %v", got.Roles)
	}
	if got.Timeout != 5*time.Second || !got.Enabled {
		t.Errorf("non-string fields changed: %+v", got)
	}
}

func TestRenderValueNoParams(t *testing.T) {
	in := sample{Path: "{{ .untouched }}"}
	got, err := RenderValue(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got.Path != in.Path {
		t.Errorf("Path = %q, want unchanged", got.Path)
	}
}

func TestRenderValueSubstitutesVerbatim(t *testing.T) {
	in := sample{
		Path:    "/home/{{ .project }}/",
		Command: "echo {{ .project }}",
		Enabled: true,
	}
	for _, project := range []string{"o'neil", "shop: x", "a\nenabled: false", `"quoted"`, "[list]"} {
		got, err := RenderValue(in, map[string]any{"project": project})
		if err != nil {
			t.Fatalf("RenderValue(project=%q): %v", project, err)
		}
		if got.Path != "/home/"+project+"/" {
			t.Errorf("Path = %q", got.Path)
		}
		if got.Command != "echo "+project {
			t.Errorf("Command = %q", got.Command)
		}
		if !got.Enabled {
			t.Errorf("project %q changed a non-string field", project)
		}
	}
}

type nested struct {
	Name     string `yaml:"name"`
	Database struct {
		Password string   `yaml:"password"`
		Commands []string `yaml:"commands"`
	} `yaml:"database"`
}

func TestRenderValueErrorNamesField(t *testing.T) {
	var in nested
	in.Name = "{{ .project }}"
	in.Database.Password = "s3cret"
	in.Database.Commands = []string{"migrate", "load {{ .enviroment }}"}

	_, err := RenderValue(in, map[string]any{"project": "shop"})
	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want *Error", err)
	}
	if terr.Path != "database.commands[1]" {
		t.Errorf("Path = %q", terr.Path)
	}
	if terr.Template != "load {{ .enviroment }}" {
		t.Errorf("Template = %q", terr.Template)
	}
	if strings.Contains(err.Error(), "s3cret") {
		t.Errorf("error includes other fields: %v", err)
	}
}

func TestRenderValueEscapedBraces(t *testing.T) {
	in := sample{Command: `docker ps --format {{ "{{.Names}}" }}`}
	got, err := RenderValue(in, map[string]any{"project": "shop"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Command != "docker ps --format {{.Names}}" {
		t.Errorf("Command = %q", got.Command)
	}
}
