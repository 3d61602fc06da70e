package app

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/nvsq/internal/adapters/memstore"
	"github.com/bft-labs/nvsq/internal/domain"
	"github.com/bft-labs/nvsq/internal/ports"
)

const (
	testNamespace  = "uploadqueue"
	testRecordSize = 64
	testMargin     = 5
)

var errInjected = errors.New("injected fault")

func newPartition(t *testing.T, opts memstore.Options) *memstore.Partition {
	t.Helper()
	if opts.TotalEntries == 0 {
		opts.TotalEntries = 100
	}
	p := memstore.New(opts)
	if err := p.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return p
}

func newQueue(t *testing.T, p ports.Partition) *Queue {
	t.Helper()
	q, err := NewQueue(QueueConfig{
		Namespace:       testNamespace,
		RecordSize:      testRecordSize,
		Margin:          testMargin,
		VerifyOnRecover: true,
	}, p, nil, nil)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	return q
}

func readyQueue(t *testing.T, p ports.Partition) *Queue {
	t.Helper()
	q := newQueue(t, p)
	if _, err := q.Recover(context.Background()); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	return q
}

func record(fill byte) domain.Record {
	return domain.Record(bytes.Repeat([]byte{fill}, testRecordSize))
}

// recordingMetrics captures metric observations.
type recordingMetrics struct {
	mu       sync.Mutex
	outcomes []string
	lastID   domain.RecordID
}

func (m *recordingMetrics) ObserveEnqueue(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *recordingMetrics) ObserveStats(domain.StoreStats, int) {}

func (m *recordingMetrics) ObserveLastID(id domain.RecordID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastID = id
}

func TestQueueConfig_Validate(t *testing.T) {
	tests := []struct {
		name       string
		cfg        QueueConfig
		wantErr    bool
		wantMargin int
	}{
		{"default margin", QueueConfig{Namespace: "q", RecordSize: 64}, false, 5},
		{"explicit margin", QueueConfig{Namespace: "q", RecordSize: 64, Margin: 10}, false, 10},
		{"reference record", QueueConfig{Namespace: "q", RecordSize: domain.DefaultRecordSize}, false, 30},
		{"missing namespace", QueueConfig{RecordSize: 64}, true, 0},
		{"zero record size", QueueConfig{Namespace: "q"}, true, 0},
		{"margin below need", QueueConfig{Namespace: "q", RecordSize: 64, Margin: 4}, true, 0},
		{"negative entry size", QueueConfig{Namespace: "q", RecordSize: 64, EntrySize: -1}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				if !errors.Is(err, domain.ErrInvalidConfig) {
					t.Errorf("error = %v, want ErrInvalidConfig", err)
				}
				return
			}
			if cfg.Margin != tt.wantMargin {
				t.Errorf("Margin = %d, want %d", cfg.Margin, tt.wantMargin)
			}
		})
	}
}

func TestNewQueue_RequiresPartition(t *testing.T) {
	_, err := NewQueue(QueueConfig{Namespace: "q", RecordSize: 64}, nil, nil, nil)
	if !errors.Is(err, domain.ErrInvalidConfig) {
		t.Fatalf("NewQueue(nil partition) error = %v, want ErrInvalidConfig", err)
	}
}

func TestQueue_EnqueueBeforeRecover(t *testing.T) {
	q := newQueue(t, newPartition(t, memstore.Options{}))

	if q.State() != StateUninitialized {
		t.Fatalf("State() = %v, want Uninitialized", q.State())
	}
	if _, err := q.Enqueue(context.Background(), record(1)); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("Enqueue() error = %v, want ErrNotReady", err)
	}
	if _, err := q.Read(context.Background(), 1); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("Read() error = %v, want ErrNotReady", err)
	}
}

func TestQueue_RecoverEmpty(t *testing.T) {
	q := newQueue(t, newPartition(t, memstore.Options{}))

	id, err := q.Recover(context.Background())
	if err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	if id != domain.NoRecord {
		t.Errorf("Recover() = %d, want 0", id)
	}
	if q.State() != StateReady {
		t.Errorf("State() = %v, want Ready", q.State())
	}

	if _, err := q.Recover(context.Background()); !errors.Is(err, domain.ErrAlreadyRecovered) {
		t.Errorf("second Recover() error = %v, want ErrAlreadyRecovered", err)
	}
}

func TestQueue_Monotonic(t *testing.T) {
	p := newPartition(t, memstore.Options{TotalEntries: 1000})
	q := readyQueue(t, p)
	ctx := context.Background()

	var prev domain.RecordID
	for i := 0; i < 50; i++ {
		id, err := q.Enqueue(ctx, record(byte(i)))
		if err != nil {
			t.Fatalf("Enqueue(%d) error = %v", i, err)
		}
		if id != prev+1 {
			t.Fatalf("Enqueue(%d) = %d, want %d", i, id, prev+1)
		}
		prev = id
	}
	if q.LastID() != 50 {
		t.Errorf("LastID() = %d, want 50", q.LastID())
	}
}

func TestQueue_RoundTrip(t *testing.T) {
	q := readyQueue(t, newPartition(t, memstore.Options{}))
	ctx := context.Background()

	want := record(0)
	for i := range want {
		want[i] = byte(i * 7)
	}

	id, err := q.Enqueue(ctx, want)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	got, err := q.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Read() returned different bytes")
	}

	for _, bad := range []domain.RecordID{0, id + 1} {
		if _, err := q.Read(ctx, bad); !errors.Is(err, domain.ErrUnknownRecord) {
			t.Errorf("Read(%d) error = %v, want ErrUnknownRecord", bad, err)
		}
	}
}

func TestQueue_InvalidRecord(t *testing.T) {
	q := readyQueue(t, newPartition(t, memstore.Options{}))

	for _, size := range []int{0, testRecordSize - 1, testRecordSize + 1} {
		_, err := q.Enqueue(context.Background(), make(domain.Record, size))
		if !errors.Is(err, domain.ErrInvalidRecord) {
			t.Errorf("Enqueue(%d bytes) error = %v, want ErrInvalidRecord", size, err)
		}
	}
	if q.LastID() != domain.NoRecord {
		t.Errorf("LastID() = %d, want 0", q.LastID())
	}
}

func TestQueue_ContextCancelledBeforeWrite(t *testing.T) {
	p := newPartition(t, memstore.Options{})
	q := readyQueue(t, p)

	before, _ := p.Stats(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := q.Enqueue(ctx, record(1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("Enqueue() error = %v, want context.Canceled", err)
	}

	after, _ := p.Stats(context.Background())
	if after != before {
		t.Errorf("cancelled enqueue changed stats: %+v -> %+v", before, after)
	}
}

// 100 entries, 64-byte records costing 4 entries, margin 5.
func TestQueue_CapacityScenario(t *testing.T) {
	p := newPartition(t, memstore.Options{TotalEntries: 100})
	q := readyQueue(t, p)
	ctx := context.Background()

	for want := domain.RecordID(1); want <= 20; want++ {
		id, err := q.Enqueue(ctx, record(byte(want)))
		if err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
		if id != want {
			t.Fatalf("Enqueue() = %d, want %d", id, want)
		}
	}

	// Another namespace consumes the rest down to four free entries.
	h, err := p.Open(ctx, "other")
	if err != nil {
		t.Fatalf("Open(other) error = %v", err)
	}
	for _, key := range []string{"a", "b", "c"} {
		if err := h.SetBlob(ctx, key, make([]byte, 64)); err != nil {
			t.Fatalf("SetBlob(%s) error = %v", key, err)
		}
	}
	if err := h.SetU32(ctx, "n", 1); err != nil {
		t.Fatalf("SetU32() error = %v", err)
	}
	if err := h.Commit(ctx); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	h.Close()

	stats, err := q.StatsSnapshot(ctx)
	if err != nil {
		t.Fatalf("StatsSnapshot() error = %v", err)
	}
	if stats.FreeEntries != 4 {
		t.Fatalf("FreeEntries = %d, want 4", stats.FreeEntries)
	}

	_, err = q.Enqueue(ctx, record(21))
	var capErr *domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("Enqueue() error = %v, want *CapacityError", err)
	}
	if !errors.Is(err, domain.ErrCapacityExhausted) {
		t.Errorf("error does not match ErrCapacityExhausted")
	}
	if capErr.Stats.FreeEntries != 4 || capErr.Margin != testMargin {
		t.Errorf("CapacityError = %+v, want free 4 margin 5", capErr)
	}
	if q.LastID() != 20 {
		t.Errorf("LastID() = %d, want 20", q.LastID())
	}

	after, _ := p.Stats(ctx)
	if after != stats {
		t.Errorf("refused enqueue changed stats: %+v -> %+v", stats, after)
	}

	// The persisted counter is unchanged too.
	if id, err := newQueue(t, p).Recover(ctx); err != nil || id != 20 {
		t.Errorf("Recover() = %d, %v; want 20, nil", id, err)
	}
}

// The partition stalls any blob write once free entries drop to the margin.
// The guard must refuse before reaching that point.
func TestQueue_NoHangAtMargin(t *testing.T) {
	p := newPartition(t, memstore.Options{TotalEntries: 100, HangBelowFree: testMargin + 1})
	defer p.Close()
	q := readyQueue(t, p)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		for {
			if _, err := q.Enqueue(ctx, record(0)); err != nil {
				done <- err
				return
			}
		}
	}()

	select {
	case err := <-done:
		if !errors.Is(err, domain.ErrCapacityExhausted) {
			t.Fatalf("fill ended with %v, want ErrCapacityExhausted", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue hung near capacity")
	}

	stats, _ := p.Stats(ctx)
	if stats.FreeEntries > testMargin {
		t.Errorf("FreeEntries = %d, want at most the margin", stats.FreeEntries)
	}
}

func TestQueue_RecoveryIdempotent(t *testing.T) {
	p := newPartition(t, memstore.Options{})
	q := readyQueue(t, p)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if _, err := q.Enqueue(ctx, record(byte(i))); err != nil {
			t.Fatalf("Enqueue() error = %v", err)
		}
	}
	p.Crash()

	for i := 0; i < 3; i++ {
		id, err := newQueue(t, p).Recover(ctx)
		if err != nil {
			t.Fatalf("Recover() error = %v", err)
		}
		if id != 7 {
			t.Errorf("Recover() = %d, want 7", id)
		}
	}

	q2 := readyQueue(t, p)
	id, err := q2.Enqueue(ctx, record(8))
	if err != nil || id != 8 {
		t.Errorf("Enqueue after restart = %d, %v; want 8, nil", id, err)
	}
}

func TestQueue_OrphanSafety(t *testing.T) {
	tests := []struct {
		name  string
		fault func(calls *int) func(memstore.Op, string) error
	}{
		{
			name: "counter write fails",
			fault: func(_ *int) func(memstore.Op, string) error {
				return func(op memstore.Op, key string) error {
					if op == memstore.OpSetU32 && key == domain.CounterKey {
						return errInjected
					}
					return nil
				}
			},
		},
		{
			name: "counter commit fails",
			fault: func(calls *int) func(memstore.Op, string) error {
				return func(op memstore.Op, _ string) error {
					if op != memstore.OpCommit {
						return nil
					}
					*calls++
					if *calls == 2 {
						return errInjected
					}
					return nil
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPartition(t, memstore.Options{})
			q := readyQueue(t, p)
			ctx := context.Background()

			for i := 0; i < 3; i++ {
				if _, err := q.Enqueue(ctx, record(byte(i))); err != nil {
					t.Fatalf("Enqueue() error = %v", err)
				}
			}

			var calls int
			p.SetFault(tt.fault(&calls))
			_, err := q.Enqueue(ctx, record(0xAA))
			p.SetFault(nil)

			var storeErr *domain.StoreError
			if !errors.As(err, &storeErr) {
				t.Fatalf("Enqueue() error = %v, want *StoreError", err)
			}
			if !errors.Is(err, errInjected) {
				t.Errorf("StoreError should unwrap to the store failure")
			}
			if q.LastID() != 3 {
				t.Errorf("LastID() = %d, want 3", q.LastID())
			}

			p.Crash()
			q2 := newQueue(t, p)
			id, err := q2.Recover(ctx)
			if err != nil || id != 3 {
				t.Fatalf("Recover() = %d, %v; want 3, nil", id, err)
			}
			if _, err := q2.Read(ctx, 4); !errors.Is(err, domain.ErrUnknownRecord) {
				t.Errorf("orphan is readable: Read(4) error = %v", err)
			}

			id, err = q2.Enqueue(ctx, record(0xBB))
			if err != nil || id != 4 {
				t.Fatalf("Enqueue() = %d, %v; want 4, nil", id, err)
			}
			got, _ := q2.Read(ctx, 4)
			if !bytes.Equal(got, record(0xBB)) {
				t.Errorf("record 4 still holds the orphan payload")
			}
		})
	}
}

func TestQueue_BlobWriteFailureKeepsCounter(t *testing.T) {
	p := newPartition(t, memstore.Options{})
	q := readyQueue(t, p)
	ctx := context.Background()

	p.SetFault(func(op memstore.Op, _ string) error {
		if op == memstore.OpSetBlob {
			return errInjected
		}
		return nil
	})
	_, err := q.Enqueue(ctx, record(1))
	p.SetFault(nil)

	var storeErr *domain.StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != "set_blob" {
		t.Fatalf("Enqueue() error = %v, want set_blob StoreError", err)
	}

	id, err := q.Enqueue(ctx, record(2))
	if err != nil || id != 1 {
		t.Errorf("Enqueue() = %d, %v; want 1, nil", id, err)
	}
}

func TestQueue_RecoverReadError(t *testing.T) {
	p := newPartition(t, memstore.Options{})
	q := newQueue(t, p)
	ctx := context.Background()

	p.SetFault(func(op memstore.Op, _ string) error {
		if op == memstore.OpGetU32 {
			return errInjected
		}
		return nil
	})
	id, err := q.Recover(ctx)
	if !domain.IsStoreError(err) {
		t.Fatalf("Recover() error = %v, want StoreError", err)
	}
	if id != domain.NoRecord {
		t.Errorf("Recover() = %d on error, want 0", id)
	}
	if q.State() != StateUninitialized {
		t.Errorf("State() = %v, want Uninitialized", q.State())
	}

	p.SetFault(nil)
	if _, err := q.Recover(ctx); err != nil {
		t.Fatalf("Recover() retry error = %v", err)
	}
	if q.State() != StateReady {
		t.Errorf("State() = %v, want Ready", q.State())
	}
}

func TestQueue_RecoverInconsistent(t *testing.T) {
	tests := []struct {
		name   string
		blob   []byte
		verify bool
		want   error
	}{
		{"missing record", nil, true, domain.ErrRecoveryInconsistent},
		{"short record", make([]byte, testRecordSize/2), true, domain.ErrRecoveryInconsistent},
		{"missing record unverified", nil, false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPartition(t, memstore.Options{})
			ctx := context.Background()

			h, err := p.Open(ctx, testNamespace)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if tt.blob != nil {
				if err := h.SetBlob(ctx, domain.FormatKey(5), tt.blob); err != nil {
					t.Fatalf("SetBlob() error = %v", err)
				}
			}
			if err := h.SetU32(ctx, domain.CounterKey, 5); err != nil {
				t.Fatalf("SetU32() error = %v", err)
			}
			if err := h.Commit(ctx); err != nil {
				t.Fatalf("Commit() error = %v", err)
			}
			h.Close()

			q, err := NewQueue(QueueConfig{
				Namespace:       testNamespace,
				RecordSize:      testRecordSize,
				VerifyOnRecover: tt.verify,
			}, p, nil, nil)
			if err != nil {
				t.Fatalf("NewQueue() error = %v", err)
			}

			id, err := q.Recover(ctx)
			if tt.want == nil {
				if err != nil || id != 5 {
					t.Fatalf("Recover() = %d, %v; want 5, nil", id, err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("Recover() error = %v, want %v", err, tt.want)
			}
			var recErr *domain.RecoveryError
			if !errors.As(err, &recErr) || recErr.Counter != 5 || recErr.Key != "record00005" {
				t.Errorf("RecoveryError = %+v", recErr)
			}
		})
	}
}

func TestQueue_Metrics(t *testing.T) {
	p := newPartition(t, memstore.Options{TotalEntries: 20})
	m := &recordingMetrics{}
	q, err := NewQueue(QueueConfig{Namespace: testNamespace, RecordSize: testRecordSize}, p, nil, m)
	if err != nil {
		t.Fatalf("NewQueue() error = %v", err)
	}
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, record(0)); !errors.Is(err, domain.ErrNotReady) {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if _, err := q.Recover(ctx); err != nil {
		t.Fatalf("Recover() error = %v", err)
	}
	for {
		if _, err := q.Enqueue(ctx, record(0)); err != nil {
			break
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outcomes) < 3 {
		t.Fatalf("outcomes = %v", m.outcomes)
	}
	if m.outcomes[0] != ports.OutcomeRejected {
		t.Errorf("first outcome = %s, want rejected", m.outcomes[0])
	}
	if m.outcomes[len(m.outcomes)-1] != ports.OutcomeCapacity {
		t.Errorf("last outcome = %s, want capacity_exhausted", m.outcomes[len(m.outcomes)-1])
	}
	if m.lastID != q.LastID() {
		t.Errorf("metrics last id = %d, want %d", m.lastID, q.LastID())
	}
}
