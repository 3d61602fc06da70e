package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

func TestZerologAdapter_Fields(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapterWithLogger(zerolog.New(&buf))

	adapter.Info("record stored",
		ports.String("key", "record00001"),
		ports.Uint32("id", 1),
		ports.Int("free_entries", 42),
		ports.Bool("committed", true),
		ports.Duration("elapsed", time.Millisecond),
		ports.Err(errors.New("boom")),
		ports.Any("stats", domain.StoreStats{UsedEntries: 96, FreeEntries: 4, TotalEntries: 100, NamespaceCount: 1}),
	)

	out := buf.String()
	for _, want := range []string{
		`"message":"record stored"`,
		`"key":"record00001"`,
		`"id":1`,
		`"free_entries":42`,
		`"committed":true`,
		`"error":"boom"`,
		`"stats":{"used_entries":96,"free_entries":4,"total_entries":100,"namespace_count":1}`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestZerologAdapter_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	adapter := NewZerologAdapterWithLogger(zerolog.New(&buf).Level(zerolog.WarnLevel))

	adapter.Debug("hidden")
	adapter.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %s", buf.String())
	}

	adapter.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn output, got %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name    string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"warn", zerolog.WarnLevel, false},
		{"loud", zerolog.NoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
