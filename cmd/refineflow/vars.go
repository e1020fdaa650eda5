package main

import (
	"fmt"
	"os"
	"strings"
)

// parseVars turns repeated key=value flags into a variable map. A value
// starting with @ is read from the named file.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		key, value, ok := strings.Cut(p, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --var %q (want key=value)", p)
		}
		value, err := readValue(value)
		if err != nil {
			return nil, fmt.Errorf("--var %s: %w", key, err)
		}
		vars[key] = value
	}
	return vars, nil
}

// readValue returns v, or the contents of the file named after a leading @.
func readValue(v string) (string, error) {
	if !strings.HasPrefix(v, "@") {
		return v, nil
	}
	data, err := os.ReadFile(v[1:])
	if err != nil {
		return "", err
	}
	return string(data), nil
}
