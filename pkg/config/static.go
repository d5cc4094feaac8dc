package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadDocument reads a single config.Document from path, detecting YAML
// vs JSON by file extension (.json, else YAML).
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}
	return ParseDocument(path, data)
}

// ParseDocument decodes data as a Document, choosing JSON or YAML by
// the name's extension.
func ParseDocument(name string, data []byte) (*Document, error) {
	var doc Document
	if isJSON(name) {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing %q as json: %w", name, err)
		}
		return &doc, nil
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing %q as yaml: %w", name, err)
	}
	return &doc, nil
}

func isJSON(name string) bool {
	n := len(name)
	return n >= 5 && name[n-5:] == ".json"
}
