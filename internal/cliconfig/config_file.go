package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Store           string `toml:"store"`
	DataDir         string `toml:"data_dir"`
	Partition       string `toml:"partition"`
	Namespace       string `toml:"namespace"`
	RecordSize      int    `toml:"record_size"`
	EntrySize       int    `toml:"entry_size"`
	TotalEntries    int    `toml:"total_entries"`
	Margin          int    `toml:"margin"`
	VerifyOnRecover *bool  `toml:"verify_on_recover"`
	NoSync          *bool  `toml:"no_sync"`
	LogLevel        string `toml:"log_level"`
	MetricsFile     string `toml:"metrics_file"`
	OnError         string `toml:"on_error"`
	Retries         int    `toml:"retries"`
	RetryBackoff    string `toml:"retry_backoff"`
	MaxErrors       int    `toml:"max_errors"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.nvsq/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".nvsq", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("store", fc.Store, &cfg.Store)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("partition", fc.Partition, &cfg.Partition)
	s.setString("namespace", fc.Namespace, &cfg.Namespace)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("metrics-file", fc.MetricsFile, &cfg.MetricsFile)
	s.setString("on-error", fc.OnError, &cfg.OnError)

	s.setInt("record-size", fc.RecordSize, &cfg.RecordSize)
	s.setInt("entry-size", fc.EntrySize, &cfg.EntrySize)
	s.setInt("total-entries", fc.TotalEntries, &cfg.TotalEntries)
	s.setInt("margin", fc.Margin, &cfg.Margin)
	s.setInt("retries", fc.Retries, &cfg.Retries)
	s.setInt("max-errors", fc.MaxErrors, &cfg.MaxErrors)

	if err := s.setDuration("retry-backoff", fc.RetryBackoff, &cfg.RetryBackoff); err != nil {
		return err
	}

	s.setBool("verify-on-recover", fc.VerifyOnRecover, &cfg.VerifyOnRecover)
	s.setBool("no-sync", fc.NoSync, &cfg.NoSync)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
