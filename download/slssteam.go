package download

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// EnsurePlayNotOwned flips the compatibility layer's PlayNotOwnedGames
// flag on so downloaded titles launch without ownership checks. The
// config file is created if absent; other keys are preserved. Callers
// treat failure here as a warning, never as a job failure.
func EnsurePlayNotOwned(configPath string) error {
	config := map[string]interface{}{}

	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return fmt.Errorf("failed to parse %s: %w", configPath, err)
		}
	case os.IsNotExist(err):
		// First run; start from an empty config.
	default:
		return fmt.Errorf("failed to read %s: %w", configPath, err)
	}

	if enabled, ok := config["PlayNotOwnedGames"].(bool); ok && enabled {
		return nil
	}
	config["PlayNotOwnedGames"] = true

	out, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", configPath, err)
	}
	return nil
}
