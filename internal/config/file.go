package config

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// File returns a Source reading a YAML file. A missing file is an empty layer
// unless required is set.
func File(path string, required bool) Source {
	return func(ctx context.Context) (*Overrides, error) {
		if path == "" {
			return &Overrides{}, nil
		}

		data, err := os.ReadFile(path)
		if os.IsNotExist(err) && !required {
			return &Overrides{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		var overrides Overrides
		if err := yaml.Unmarshal(data, &overrides); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		return &overrides, nil
	}
}
