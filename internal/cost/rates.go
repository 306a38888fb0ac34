// Package cost tracks token spend per job against a per-model rate
// table, records usage to the audit sink, and alerts when job, daily,
// or monthly thresholds are exceeded.
package cost

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/crewops/crewd/internal/model"
)

// Rate is the USD price per 1000 input and output tokens for one model.
type Rate struct {
	InputPer1K  float64 `yaml:"input_per_1k"`
	OutputPer1K float64 `yaml:"output_per_1k"`
}

// RateTable maps model names to rates. Lookups for unknown models fall
// back to the default model's rate so cost is never silently zero.
type RateTable struct {
	rates        map[string]Rate
	defaultModel string
}

// DefaultRateTable returns the built-in pricing table.
func DefaultRateTable() *RateTable {
	return &RateTable{
		rates: map[string]Rate{
			"gpt-4":           {InputPer1K: 0.03, OutputPer1K: 0.06},
			"gpt-3.5-turbo":   {InputPer1K: 0.001, OutputPer1K: 0.002},
			"claude-3-sonnet": {InputPer1K: 0.003, OutputPer1K: 0.015},
			"claude-3-haiku":  {InputPer1K: 0.00025, OutputPer1K: 0.00125},
		},
		defaultModel: model.DefaultLLMModel,
	}
}

// Lookup returns the rate for a model, or the default model's rate when
// the model is unknown.
func (t *RateTable) Lookup(modelName string) Rate {
	if rate, ok := t.rates[modelName]; ok {
		return rate
	}
	return t.rates[t.defaultModel]
}

// ratesFile is the on-disk override format.
type ratesFile struct {
	SchemaVersion int             `yaml:"schema_version"`
	FileType      string          `yaml:"file_type"`
	DefaultModel  string          `yaml:"default_model,omitempty"`
	Models        map[string]Rate `yaml:"models"`
}

// LoadRateTable builds a rate table from the defaults plus the
// overrides in a YAML file. Listed models replace or extend the
// built-in entries; the default model must resolve after merging.
func LoadRateTable(path string) (*RateTable, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rates file: %w", err)
	}

	var file ratesFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse rates file: %w", err)
	}

	table := DefaultRateTable()
	for name, rate := range file.Models {
		if rate.InputPer1K < 0 || rate.OutputPer1K < 0 {
			return nil, fmt.Errorf("negative rate for model %q", name)
		}
		table.rates[name] = rate
	}
	if file.DefaultModel != "" {
		if _, ok := table.rates[file.DefaultModel]; !ok {
			return nil, fmt.Errorf("default model %q has no rate entry", file.DefaultModel)
		}
		table.defaultModel = file.DefaultModel
	}

	return table, nil
}
