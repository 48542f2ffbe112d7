package config

import (
	"fmt"
	"os"
)

// InitConfig creates a sample configuration file at the default location.
// Returns the path the file was written to. Fails if the file already
// exists unless force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath creates a sample configuration file at the given path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	// The sample config documents the uploader section even though it
	// ships disabled; a placeholder bucket makes the intent obvious.
	cfg.Uploader.Bucket = "my-qrand-bucket"

	if err := SaveConfig(cfg, path); err != nil {
		return err
	}

	return nil
}
