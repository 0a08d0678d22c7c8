package contract

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lodevel/procstudio/artifact"
)

// fileConfig is the YAML override format for the task table.
type fileConfig struct {
	OutputFormat string                    `yaml:"output_format"`
	Tasks        map[string]taskFileConfig `yaml:"tasks"`
}

type taskFileConfig struct {
	InputKinds    []string `yaml:"input_kinds"`
	ProposalKinds []string `yaml:"proposal_kinds"`
	Instruction   string   `yaml:"instruction"`
}

// LoadFile returns the default table with overrides from a YAML file
// applied. Overrides are merged per task: an empty field keeps the default.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task table: %w", err)
	}
	return LoadYAML(data)
}

// LoadYAML merges YAML overrides into the default table.
func LoadYAML(data []byte) (*Table, error) {
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse task table: %w", err)
	}

	table := Defaults()
	if cfg.OutputFormat != "" {
		table.outputFormat = cfg.OutputFormat
	}

	for name, tc := range cfg.Tasks {
		task := ParseTaskType(name)
		if task == "" {
			return nil, fmt.Errorf("unknown task type %q", name)
		}
		c := table.contracts[task]
		if tc.Instruction != "" {
			c.Instruction = tc.Instruction
		}
		if len(tc.InputKinds) > 0 {
			kinds, err := parseKinds(tc.InputKinds)
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", name, err)
			}
			c.InputKinds = kinds
		}
		if len(tc.ProposalKinds) > 0 {
			kinds, err := parseKinds(tc.ProposalKinds)
			if err != nil {
				return nil, fmt.Errorf("task %s: %w", name, err)
			}
			for _, k := range kinds {
				if k.Derived() {
					return nil, fmt.Errorf("task %s: derived kind %s cannot be a proposal target", name, k)
				}
			}
			c.ProposalKinds = kinds
		}
		// Base versions for apply come from the snapshot, which covers
		// only input kinds. A proposal kind the task does not read would
		// apply against a version nobody captured.
		for _, pk := range c.ProposalKinds {
			if !containsKind(c.InputKinds, pk) {
				return nil, fmt.Errorf("task %s: proposal kind %s is not among its input kinds", name, pk)
			}
		}
		table.contracts[task] = c
	}
	return table, nil
}

func containsKind(kinds []artifact.Kind, k artifact.Kind) bool {
	for _, have := range kinds {
		if have == k {
			return true
		}
	}
	return false
}

func parseKinds(names []string) ([]artifact.Kind, error) {
	kinds := make([]artifact.Kind, 0, len(names))
	for _, n := range names {
		k := artifact.Kind(n)
		if !k.Valid() {
			return nil, fmt.Errorf("unknown artifact kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
