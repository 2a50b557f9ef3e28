package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// decoders parse scenario files by extension.
var decoders = map[string]func([]byte, any) error{
	".json": json.Unmarshal,
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
}

// scenarioGlob selects scenario files under a directory.
const scenarioGlob = "**/*.{json,yaml,yml}"

// LoadScenario reads and validates one scenario file. The extension picks
// the format.
func LoadScenario(path string) (*Scenario, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%s: unsupported scenario format %q (want .json, .yaml or .yml)", path, ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	var s Scenario
	if err := decode(data, &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	s.Path = path
	return &s, nil
}

func (s *Scenario) validate() error {
	if s.Name == "" {
		return errors.New("name is required")
	}
	if len(s.Steps) == 0 {
		return errors.New("at least one step is required")
	}
	for i, st := range slices.Concat(s.Steps, s.Teardown) {
		if st.Request.Path == "" {
			return fmt.Errorf("step %d (%s): request.path is required", i+1, st.Name)
		}
	}
	return nil
}

// Resolve expands files, directories and doublestar globs into a sorted,
// de-duplicated list of scenario files. Directories contribute every
// scenario file beneath them.
func Resolve(patterns []string) ([]string, error) {
	var files []string
	for _, p := range patterns {
		if info, err := os.Stat(p); err == nil {
			if !info.IsDir() {
				files = append(files, p)
				continue
			}
			p = filepath.Join(p, scenarioGlob)
		}
		matches, err := doublestar.FilepathGlob(p, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", p, err)
		}
		for _, m := range matches {
			if isScenarioFile(m) {
				files = append(files, m)
			}
		}
	}
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) == 0 {
		return nil, fmt.Errorf("no scenario files match %s", strings.Join(patterns, ", "))
	}
	return files, nil
}

// LoadAll resolves patterns and loads every scenario.
func LoadAll(patterns []string) ([]*Scenario, error) {
	files, err := Resolve(patterns)
	if err != nil {
		return nil, err
	}
	scenarios := make([]*Scenario, 0, len(files))
	for _, f := range files {
		s, err := LoadScenario(f)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func isScenarioFile(name string) bool {
	_, ok := decoders[strings.ToLower(filepath.Ext(name))]
	return ok
}
