package models

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// catalogFile mirrors the model_catalog section of config/models.yaml:
// model_catalog -> provider -> model id -> limits.
type catalogFile struct {
	ModelCatalog map[string]map[string]catalogEntry `yaml:"model_catalog"`
}

type catalogEntry struct {
	InputTokenLimit     int   `yaml:"input_token_limit"`
	OutputTokenLimit    int   `yaml:"output_token_limit"`
	SupportsTemperature *bool `yaml:"supports_temperature"`
}

// LoadCatalog reads the model_catalog section of a models.yaml file.
// When supports_temperature is omitted it is derived from the model family.
func LoadCatalog(path string) ([]ModelProfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes model_catalog entries from YAML bytes.
func ParseCatalog(data []byte) ([]ModelProfile, error) {
	var file catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode model catalog: %w", err)
	}

	var out []ModelProfile
	for provider, entries := range file.ModelCatalog {
		for id, e := range entries {
			p := ModelProfile{
				ID:                  id,
				Provider:            provider,
				InputTokenLimit:     e.InputTokenLimit,
				OutputTokenLimit:    e.OutputTokenLimit,
				SupportsTemperature: !IsReasoningModel(id),
			}
			if e.SupportsTemperature != nil {
				p.SupportsTemperature = *e.SupportsTemperature
			}
			if err := p.validate(); err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// LoadRegistry builds the default registry and, when path is non-empty,
// applies the catalog found there on top of it.
func LoadRegistry(path string) (*Registry, error) {
	base := DefaultRegistry()
	if path == "" {
		return base, nil
	}
	overrides, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	return base.With(overrides...)
}
