package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

func TestPrometheusObservations(t *testing.T) {
	m, err := NewPrometheus()
	require.NoError(t, err)

	m.ObserveEnqueue(ports.OutcomeOK, time.Millisecond)
	m.ObserveEnqueue(ports.OutcomeOK, time.Millisecond)
	m.ObserveEnqueue(ports.OutcomeCapacity, time.Microsecond)
	m.ObserveStats(domain.StoreStats{UsedEntries: 96, FreeEntries: 4, TotalEntries: 100}, 5)
	m.ObserveLastID(20)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.enqueueTotal.WithLabelValues(ports.OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.enqueueTotal.WithLabelValues(ports.OutcomeCapacity)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.entries.WithLabelValues("free")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.margin))
	assert.Equal(t, 20.0, testutil.ToFloat64(m.lastID))
}

func TestWriteTextfile(t *testing.T) {
	m, err := NewPrometheus()
	require.NoError(t, err)
	m.ObserveLastID(7)

	path := filepath.Join(t.TempDir(), "nvsq.prom")
	require.NoError(t, m.WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(b), "nvsq_last_record_id 7"), string(b))
}
