package cliconfig

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvConfig(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		changed  map[string]bool
		initial  Config
		expected Config
		wantErr  bool
	}{
		{
			name: "applies all valid env vars",
			envVars: map[string]string{
				"NVSQ_STORE":             "sqlite",
				"NVSQ_DATA_DIR":          "/env/data",
				"NVSQ_PARTITION":         "envpart",
				"NVSQ_NAMESPACE":         "envns",
				"NVSQ_RECORD_SIZE":       "128",
				"NVSQ_ENTRY_SIZE":        "16",
				"NVSQ_TOTAL_ENTRIES":     "500",
				"NVSQ_MARGIN":            "20",
				"NVSQ_VERIFY_ON_RECOVER": "true",
				"NVSQ_NO_SYNC":           "1",
				"NVSQ_LOG_LEVEL":         "debug",
				"NVSQ_METRICS_FILE":      "/tmp/nvsq.prom",
				"NVSQ_ON_ERROR":          "continue",
				"NVSQ_RETRIES":           "3",
				"NVSQ_RETRY_BACKOFF":     "250ms",
				"NVSQ_MAX_ERRORS":        "7",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Store:           "sqlite",
				DataDir:         "/env/data",
				Partition:       "envpart",
				Namespace:       "envns",
				RecordSize:      128,
				EntrySize:       16,
				TotalEntries:    500,
				Margin:          20,
				VerifyOnRecover: true,
				NoSync:          true,
				LogLevel:        "debug",
				MetricsFile:     "/tmp/nvsq.prom",
				OnError:         "continue",
				Retries:         3,
				RetryBackoff:    250 * time.Millisecond,
				MaxErrors:       7,
			},
			wantErr: false,
		},
		{
			name: "respects changed flags",
			envVars: map[string]string{
				"NVSQ_STORE":       "sqlite",
				"NVSQ_RECORD_SIZE": "128",
			},
			changed: map[string]bool{"store": true},
			initial: Config{Store: "memory"},
			expected: Config{
				Store:      "memory",
				RecordSize: 128,
			},
			wantErr: false,
		},
		{
			name: "returns error for invalid duration",
			envVars: map[string]string{
				"NVSQ_RETRY_BACKOFF": "not-a-duration",
			},
			changed:  map[string]bool{},
			initial:  Config{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name: "returns error for invalid int",
			envVars: map[string]string{
				"NVSQ_TOTAL_ENTRIES": "not-a-number",
			},
			changed:  map[string]bool{},
			initial:  Config{},
			expected: Config{},
			wantErr:  true,
		},
		{
			name: "ignores non-positive int",
			envVars: map[string]string{
				"NVSQ_MARGIN": "-4",
			},
			changed:  map[string]bool{},
			initial:  Config{Margin: 7},
			expected: Config{Margin: 7},
			wantErr:  false,
		},
		{
			name: "handles bool 'false' as false",
			envVars: map[string]string{
				"NVSQ_VERIFY_ON_RECOVER": "false",
			},
			changed:  map[string]bool{},
			initial:  Config{VerifyOnRecover: true},
			expected: Config{VerifyOnRecover: false},
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Set environment variables
			for k, v := range tt.envVars {
				os.Setenv(k, v)
			}
			// Clean up after test
			defer func() {
				for k := range tt.envVars {
					os.Unsetenv(k)
				}
			}()

			cfg := tt.initial
			err := ApplyEnvConfig(&cfg, tt.changed)

			if tt.wantErr && err == nil {
				t.Error("ApplyEnvConfig() expected error but got nil")
				return
			}
			if !tt.wantErr && err != nil {
				t.Errorf("ApplyEnvConfig() unexpected error: %v", err)
				return
			}

			if !tt.wantErr && cfg != tt.expected {
				t.Errorf("ApplyEnvConfig() = %+v, want %+v", cfg, tt.expected)
			}
		})
	}
}
