// Package config loads and validates the service configuration from
// config.yaml, with environment overrides.
package config

import (
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic snapshots of the tasks file.
type BackupConfig struct {
	// Dir is the snapshot directory. Relative paths resolve under HomeDir.
	Dir string `yaml:"dir"`
	// CronExpr is a standard 5-field cron expression. Empty disables backups.
	CronExpr string `yaml:"cron_expr"`
	// Keep is the number of snapshots retained. 0 uses the default (10).
	Keep int `yaml:"keep"`
}

// OpLogConfig controls the task operations log.
type OpLogConfig struct {
	// SQLitePath is the optional SQLite mirror of the operations log.
	// Empty means JSONL-only.
	SQLitePath string `yaml:"sqlite_path"`
}

type Config struct {
	HomeDir string `yaml:"-"`

	BindAddr string `yaml:"bind_addr"`
	LogLevel string `yaml:"log_level"`

	// TasksFile is the JSON task store. Relative paths resolve under HomeDir.
	TasksFile string `yaml:"tasks_file"`

	Backups BackupConfig `yaml:"backups"`
	OpLog   OpLogConfig  `yaml:"oplog"`
}

func defaultConfig() Config {
	return Config{
		BindAddr:  "127.0.0.1:8787",
		LogLevel:  "info",
		TasksFile: "tasks.json",
		Backups: BackupConfig{
			Dir:      "backups",
			CronExpr: "0 * * * *",
			Keep:     10,
		},
	}
}

// HomeDir returns the data directory, honoring the TASKBUDDY_HOME override.
func HomeDir() string {
	if override := os.Getenv("TASKBUDDY_HOME"); override != "" {
		return override
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "."
	}
	return filepath.Join(home, ".taskbuddy")
}

// ConfigPath returns the path to config.yaml within the given home directory.
func ConfigPath(homeDir string) string {
	return filepath.Join(homeDir, "config.yaml")
}

// Load reads config.yaml from the home directory, applies environment
// overrides, and fills in defaults. A missing config file is not an error.
func Load() (Config, error) {
	cfg := defaultConfig()
	cfg.HomeDir = HomeDir()

	if err := os.MkdirAll(cfg.HomeDir, 0o755); err != nil {
		return cfg, fmt.Errorf("create taskbuddy home: %w", err)
	}

	data, err := os.ReadFile(ConfigPath(cfg.HomeDir))
	if err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("read config.yaml: %w", err)
		}
	} else if len(data) > 0 {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config.yaml: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	normalize(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if raw := os.Getenv("TASKBUDDY_BIND_ADDR"); raw != "" {
		cfg.BindAddr = raw
	}
	if raw := os.Getenv("TASKBUDDY_LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("TASKBUDDY_TASKS_FILE"); raw != "" {
		cfg.TasksFile = raw
	}
	if raw := os.Getenv("TASKBUDDY_BACKUP_CRON"); raw != "" {
		cfg.Backups.CronExpr = raw
	}
}

func normalize(cfg *Config) {
	if cfg.BindAddr == "" {
		cfg.BindAddr = "127.0.0.1:8787"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.TasksFile == "" {
		cfg.TasksFile = "tasks.json"
	}
	if !filepath.IsAbs(cfg.TasksFile) {
		cfg.TasksFile = filepath.Join(cfg.HomeDir, cfg.TasksFile)
	}
	if cfg.Backups.Dir == "" {
		cfg.Backups.Dir = "backups"
	}
	if !filepath.IsAbs(cfg.Backups.Dir) {
		cfg.Backups.Dir = filepath.Join(cfg.HomeDir, cfg.Backups.Dir)
	}
	if cfg.Backups.Keep <= 0 {
		cfg.Backups.Keep = 10
	}
	if cfg.OpLog.SQLitePath != "" && !filepath.IsAbs(cfg.OpLog.SQLitePath) {
		cfg.OpLog.SQLitePath = filepath.Join(cfg.HomeDir, cfg.OpLog.SQLitePath)
	}
}

// Fingerprint returns a stable hash of the active config.
func (c Config) Fingerprint() string {
	h := fnv.New64a()
	fmt.Fprintf(h, "bind=%s|log=%s|tasks=%s|backup=%s|keep=%d",
		c.BindAddr, c.LogLevel, c.TasksFile, c.Backups.CronExpr, c.Backups.Keep)
	return fmt.Sprintf("cfg-%x", h.Sum64())
}
