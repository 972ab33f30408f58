package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// InitProjectConfigScaffold 在 dir 下生成 .sista/config.yaml 模板；已存在则不覆盖
// InitProjectConfigScaffold writes a .sista/config.yaml template under dir and
// returns its path. An existing file is left untouched.
func InitProjectConfigScaffold(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("get current working directory: %w", err)
		}
		dir = cwd
	}

	configDir := filepath.Join(dir, ".sista")
	path := filepath.Join(configDir, "config.yaml")

	info, err := os.Stat(path)
	if err == nil {
		if info.IsDir() {
			return "", fmt.Errorf("project config path is a directory: %s", path)
		}
		return path, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("stat project config: %w", err)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir .sista: %w", err)
	}

	cfg := Default()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project config: %w", err)
	}
	return path, nil
}
