package config

import (
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/ardelis/postqueue/errors"
)

// WriteDefaultConfig writes the current effective configuration to the user
// config file (~/.postqueue/config.toml), creating the directory if needed.
// Refuses to overwrite an existing file unless force is set; when forcing, the
// previous file is kept as a .back copy.
func WriteDefaultConfig(force bool) (string, error) {
	path := UserConfigPath()
	if path == "" {
		return "", errors.New("cannot determine user home directory")
	}

	if _, err := os.Stat(path); err == nil {
		if !force {
			return "", errors.Newf("config file already exists: %s (use --force to overwrite)", path)
		}
		if err := backupConfig(path); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.Wrap(err, "failed to create config directory")
	}

	cfg, err := Load()
	if err != nil {
		return "", errors.Wrap(err, "failed to load effective config")
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.Wrap(err, "failed to write config file")
	}

	return path, nil
}

// backupConfig keeps the previous config file as a .back copy before overwrite
func backupConfig(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(path+".back", content, 0644); err != nil {
		return errors.Wrap(err, "failed to write config backup")
	}
	return nil
}
