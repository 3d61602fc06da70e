package app

import (
	"errors"
	"testing"

	"github.com/bft-labs/nvsq/internal/domain"
)

func TestAdmit(t *testing.T) {
	tests := []struct {
		name  string
		free  int
		want  bool
	}{
		{"plenty", 50, true},
		{"one above margin", 6, true},
		{"exactly margin", 5, false},
		{"below margin", 4, false},
		{"full", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stats := domain.StoreStats{FreeEntries: tt.free, TotalEntries: 100, UsedEntries: 100 - tt.free}
			d := Admit(stats, 5)

			if d.Admit != tt.want {
				t.Errorf("Admit(free=%d, margin=5) = %v, want %v", tt.free, d.Admit, tt.want)
			}
			if d.Stats != stats || d.Margin != 5 {
				t.Errorf("decision should carry stats and margin, got %+v", d)
			}
			if tt.want && d.Err() != nil {
				t.Errorf("admitted decision returned error %v", d.Err())
			}
			if !tt.want && !errors.Is(d.Err(), domain.ErrCapacityExhausted) {
				t.Errorf("refused decision error = %v, want ErrCapacityExhausted", d.Err())
			}
		})
	}
}

func TestMarginFor(t *testing.T) {
	tests := []struct {
		recordSize int
		entrySize  int
		want       int
	}{
		{64, 32, 5},
		{860, 32, 30},
		{1, 32, 4},
	}

	for _, tt := range tests {
		got := MarginFor(tt.recordSize, tt.entrySize)
		if got != tt.want {
			t.Errorf("MarginFor(%d, %d) = %d, want %d", tt.recordSize, tt.entrySize, got, tt.want)
		}
		if got < MinMargin {
			t.Errorf("MarginFor(%d, %d) = %d below MinMargin", tt.recordSize, tt.entrySize, got)
		}
	}
}
