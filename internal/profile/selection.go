package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Selection is the persisted environment choice, stored next to the deploy
// file in .djdeploy.yaml.
type Selection struct {
	Environment string    `yaml:"environment"`
	SelectedAt  time.Time `yaml:"selected_at"`
}

// SelectionPath returns the selection file path for a deploy file.
func SelectionPath(deployFile string) string {
	return filepath.Join(filepath.Dir(deployFile), ".djdeploy.yaml")
}

// LoadSelection reads the selection, returning an empty one if the file does
// not exist.
func LoadSelection(path string) (Selection, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Selection{}, nil
	}
	if err != nil {
		return Selection{}, fmt.Errorf("read selection: %w", err)
	}
	var s Selection
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Selection{}, fmt.Errorf("parse selection: %w", err)
	}
	return s, nil
}

// SaveSelection records name as the selected environment.
func SaveSelection(path, name string) error {
	data, err := yaml.Marshal(Selection{Environment: name, SelectedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write selection: %w", err)
	}
	return os.Rename(tmp, path)
}

// Resolve picks the environment name to use: an explicit flag wins, then the
// persisted selection. An empty result lets File.Select fall back to the
// deploy file's default.
func Resolve(flag, deployFile string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	sel, err := LoadSelection(SelectionPath(deployFile))
	if err != nil {
		return "", err
	}
	return sel.Environment, nil
}
