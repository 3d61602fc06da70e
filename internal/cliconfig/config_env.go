package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (NVSQ_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("store", os.Getenv("NVSQ_STORE"), &cfg.Store)
	s.setString("data-dir", os.Getenv("NVSQ_DATA_DIR"), &cfg.DataDir)
	s.setString("partition", os.Getenv("NVSQ_PARTITION"), &cfg.Partition)
	s.setString("namespace", os.Getenv("NVSQ_NAMESPACE"), &cfg.Namespace)
	s.setString("log-level", os.Getenv("NVSQ_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("metrics-file", os.Getenv("NVSQ_METRICS_FILE"), &cfg.MetricsFile)
	s.setString("on-error", os.Getenv("NVSQ_ON_ERROR"), &cfg.OnError)

	ints := []struct {
		flag, env string
		dst       *int
	}{
		{"record-size", "NVSQ_RECORD_SIZE", &cfg.RecordSize},
		{"entry-size", "NVSQ_ENTRY_SIZE", &cfg.EntrySize},
		{"total-entries", "NVSQ_TOTAL_ENTRIES", &cfg.TotalEntries},
		{"margin", "NVSQ_MARGIN", &cfg.Margin},
		{"retries", "NVSQ_RETRIES", &cfg.Retries},
		{"max-errors", "NVSQ_MAX_ERRORS", &cfg.MaxErrors},
	}
	for _, v := range ints {
		if err := s.setIntFromString(v.flag, os.Getenv(v.env), v.dst); err != nil {
			return err
		}
	}

	if err := s.setDuration("retry-backoff", os.Getenv("NVSQ_RETRY_BACKOFF"), &cfg.RetryBackoff); err != nil {
		return err
	}

	s.setBoolFromString("verify-on-recover", os.Getenv("NVSQ_VERIFY_ON_RECOVER"), &cfg.VerifyOnRecover)
	s.setBoolFromString("no-sync", os.Getenv("NVSQ_NO_SYNC"), &cfg.NoSync)

	return nil
}
