package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/formbridge/formbridge/model"
)

// Loader scans directories for YAML intake configuration files.
type Loader struct{}

// NewLoader creates a new intake Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into an Intake.
func (l *Loader) LoadAll(directories []string) ([]model.Intake, error) {
	var intakes []model.Intake

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			in, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			intakes = append(intakes, in)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return intakes, nil
}

// LoadFile loads and parses a single YAML intake file.
func (l *Loader) LoadFile(path string) (model.Intake, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Intake{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var in model.Intake
	if err := yaml.Unmarshal(data, &in); err != nil {
		return model.Intake{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	return in, nil
}
