package cliconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/bft-labs/nvsq/internal/app"
	"github.com/bft-labs/nvsq/internal/domain"
)

// Store backends.
const (
	StoreMemory = "memory"
	StorePebble = "pebble"
	StoreSQLite = "sqlite"
)

// Defaults taken from the reference telemetry device.
const (
	DefaultPartition = "nvsmeteohub"
	DefaultNamespace = "uploadqueue"

	// DefaultTotalEntries is 120 flash pages of 126 entries.
	DefaultTotalEntries = 120 * 126
)

// Config holds CLI configuration for nvsq.
type Config struct {
	Store   string
	DataDir string

	Partition string
	Namespace string

	RecordSize   int
	EntrySize    int
	TotalEntries int
	Margin       int

	VerifyOnRecover bool
	NoSync          bool

	LogLevel    string
	MetricsFile string

	OnError      string
	Retries      int
	RetryBackoff time.Duration
	MaxErrors    int
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Store:           StorePebble,
		DataDir:         "", // Derived from the home directory during Validate
		Partition:       DefaultPartition,
		Namespace:       DefaultNamespace,
		RecordSize:      domain.DefaultRecordSize,
		EntrySize:       domain.DefaultEntrySize,
		TotalEntries:    DefaultTotalEntries,
		Margin:          0, // Derived from record and entry size during Validate
		VerifyOnRecover: true,
		LogLevel:        "info",
		OnError:         "stop",
		RetryBackoff:    app.DefaultBackoffInitial,
		MaxErrors:       app.DefaultMaxConsecutiveErrors,
	}
}

// DefaultDataDir returns ~/.nvsq/data if the home directory is accessible.
func DefaultDataDir() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".nvsq", "data")
	}
	return ""
}

// Validate checks the configuration for errors and sets derived defaults.
func (c *Config) Validate() error {
	c.Store = strings.ToLower(c.Store)
	switch c.Store {
	case StoreMemory:
	case StorePebble, StoreSQLite:
		if c.DataDir == "" {
			c.DataDir = DefaultDataDir()
		}
		if c.DataDir == "" {
			return fmt.Errorf("data-dir is required for the %s store", c.Store)
		}
	default:
		return fmt.Errorf("unknown store %q (want memory, pebble or sqlite)", c.Store)
	}

	if !domain.ValidKey(c.Partition) || strings.ContainsAny(c.Partition, `/\`) {
		return fmt.Errorf("partition name %q must be 1-%d characters without path separators",
			c.Partition, domain.MaxKeyLength)
	}
	if !domain.ValidKey(c.Namespace) || strings.Contains(c.Namespace, "/") {
		return fmt.Errorf("namespace %q must be 1-%d characters without '/'", c.Namespace, domain.MaxKeyLength)
	}

	if c.RecordSize <= 0 {
		return fmt.Errorf("record size must be positive")
	}
	if c.EntrySize <= 0 {
		return fmt.Errorf("entry size must be positive")
	}
	if c.TotalEntries <= 0 {
		return fmt.Errorf("total entries must be positive")
	}

	need := app.MarginFor(c.RecordSize, c.EntrySize)
	if c.Margin == 0 {
		c.Margin = need
	}
	if c.Margin < need {
		return fmt.Errorf("margin %d is below the %d entries one %d-byte record needs",
			c.Margin, need, c.RecordSize)
	}
	if c.Margin >= c.TotalEntries {
		return fmt.Errorf("margin %d leaves no room in %d entries", c.Margin, c.TotalEntries)
	}

	if _, err := app.ParseErrorPolicy(c.OnError); err != nil {
		return err
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative")
	}
	if c.MaxErrors < 0 {
		return fmt.Errorf("max errors must not be negative")
	}

	return nil
}

// PartitionPath returns the on-disk location of the partition.
func (c *Config) PartitionPath() string {
	switch c.Store {
	case StoreSQLite:
		return filepath.Join(c.DataDir, c.Partition+".db")
	case StorePebble:
		return filepath.Join(c.DataDir, c.Partition)
	default:
		return ""
	}
}

// configSetter helps apply configuration values while respecting flag precedence.
// It only applies values if the corresponding flag hasn't been explicitly set.
type configSetter struct {
	changed map[string]bool
}

// newConfigSetter creates a new setter with the given changed flags map.
func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

// setString sets a string value if not empty and flag not changed.
func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

// setInt sets an int value if positive and flag not changed.
func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

// setDuration parses and sets a duration from string if valid and flag not changed.
func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	*dst = d
	return nil
}

// setBool sets a bool value from a pointer if not nil and flag not changed.
func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

// setIntFromString parses a string to int and sets the destination if valid.
// Used for environment variables that come as strings.
func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("parse %s: %w", flag, err)
	}
	if i <= 0 {
		return nil
	}
	*dst = i
	return nil
}

// setBoolFromString parses a string to bool and sets the destination.
// Accepts "true", "1" as true, anything else as false.
// Used for environment variables that come as strings.
func (s *configSetter) setBoolFromString(flag, value string, dst *bool) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value == "true" || value == "1"
}
