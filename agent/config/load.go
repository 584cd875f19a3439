package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/hatcher/agentcore/pkg/cfg"
	"github.com/pkg/errors"
)

// Load 读取 path 指向的 yaml 配置，环境变量 AGENTCORE_* 可覆盖其中的值，如 AGENTCORE_DB_HOST
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.WithMessagef(err, "config file %s", path)
	}
	dir, file := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	ext := filepath.Ext(file)
	suffix := strings.TrimPrefix(ext, ".")
	if suffix == "" {
		suffix = "yaml"
	}

	var c Config
	if err := cfg.LoadConfig(dir, strings.TrimSuffix(file, ext), suffix, EnvPrefix, &c); err != nil {
		return nil, err
	}
	c.Prepare()
	return &c, nil
}

// WriteDefault 写出默认配置，文件已存在时返回错误
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config file %s already exists", path)
	}
	b, err := Default().YAML()
	if err != nil {
		return errors.WithMessage(err, "render default config")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.WithMessage(err, "create config dir")
	}
	return os.WriteFile(path, b, 0o644)
}
