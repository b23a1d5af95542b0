// Package template fills {{ .project }}-style placeholders in deploy file
// fields. Each string field is its own template; substituted values are data
// and are never reparsed as YAML.
package template

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

// Error names the field whose template failed. It carries that field's
// template only, never the rest of the value.
type Error struct {
	Path     string // dotted field path, e.g. "database.sync_command"
	Template string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: template %q: %v", e.Path, e.Template, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Render executes s with params as the data object. Unknown keys are an
// error so a typo cannot silently produce an empty path.
func Render(s string, params map[string]any) (string, error) {
	t, err := template.New("").Option("missingkey=error").Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, params); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderValue returns a copy of v with every string field that contains
// "{{" rendered against params. Non-string fields and map keys are left as
// they are. A failing field is reported as *Error.
func RenderValue[T any](v T, params map[string]any) (T, error) {
	if len(params) == 0 {
		return v, nil
	}

	var node yaml.Node
	if err := node.Encode(v); err != nil {
		return v, fmt.Errorf("encode for template rendering: %w", err)
	}
	if err := renderNode(&node, "", params); err != nil {
		return v, err
	}

	var result T
	if err := node.Decode(&result); err != nil {
		return v, fmt.Errorf("decode rendered value: %w", err)
	}
	return result, nil
}

func renderNode(n *yaml.Node, path string, params map[string]any) error {
	switch n.Kind {
	case yaml.DocumentNode:
		for _, c := range n.Content {
			if err := renderNode(c, path, params); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if path != "" {
				key = path + "." + key
			}
			if err := renderNode(n.Content[i+1], key, params); err != nil {
				return err
			}
		}
	case yaml.SequenceNode:
		for i, c := range n.Content {
			if err := renderNode(c, fmt.Sprintf("%s[%d]", path, i), params); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		if n.ShortTag() != "!!str" || !strings.Contains(n.Value, "{{") {
			return nil
		}
		out, err := Render(n.Value, params)
		if err != nil {
			return &Error{Path: path, Template: n.Value, Err: err}
		}
		n.Value = out
	}
	return nil
}
