package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. PROCSCHED_NUM_CPU.
const EnvPrefix = "PROCSCHED_"

// LoadCoreConfig reads a YAML config file, applies PROCSCHED_* environment
// overrides and validates the result. An empty path loads defaults plus
// environment.
func LoadCoreConfig(path string) (*CoreConfig, error) {
	values := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &values); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(values, os.LookupEnv); err != nil {
		return nil, err
	}

	c := CoreConfigFromMap(values)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

// applyEnvOverrides overlays environment values on values. The type of each
// key is taken from the defaults so "8" becomes an int and "true" a bool.
func applyEnvOverrides(values map[string]any, lookup func(string) (string, bool)) error {
	for key, def := range DefaultCoreConfig().ToMap() {
		name := EnvPrefix + strings.ToUpper(key)
		raw, ok := lookup(name)
		if !ok {
			continue
		}
		switch def.(type) {
		case int:
			v, err := strconv.Atoi(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: expected integer, got %q", name, raw)
			}
			values[key] = v
		case bool:
			v, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return fmt.Errorf("%s: expected boolean, got %q", name, raw)
			}
			values[key] = v
		default:
			values[key] = raw
		}
	}
	return nil
}

// Marshal renders the config as YAML, the format LoadCoreConfig reads.
func (c *CoreConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
