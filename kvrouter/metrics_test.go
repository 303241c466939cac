package kvrouter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAggregator_RecordThenGet(t *testing.T) {
	m := NewMetricsAggregator()
	snap := LoadSnapshot{InstanceID: 1, ActiveRequests: 3, LastUpdated: time.Now()}
	m.Record(snap)

	got, ok := m.Get(1)
	require.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestMetricsAggregator_CurrentIsIndependentSnapshot(t *testing.T) {
	m := NewMetricsAggregator()
	m.Record(LoadSnapshot{InstanceID: 1, ActiveRequests: 1, LastUpdated: time.Now()})

	view := m.Current()
	m.Record(LoadSnapshot{InstanceID: 1, ActiveRequests: 99, LastUpdated: time.Now()})

	assert.Equal(t, uint32(1), view[1].ActiveRequests, "Current must not observe later Records")
}

func TestMetricsAggregator_PurgeWorkerRemovesSnapshot(t *testing.T) {
	m := NewMetricsAggregator()
	m.Record(LoadSnapshot{InstanceID: 1, LastUpdated: time.Now()})
	m.PurgeWorker(1)

	_, ok := m.Get(1)
	assert.False(t, ok)
}

func TestMetricsAggregator_DegradedWhenMissing(t *testing.T) {
	m := NewMetricsAggregator()
	assert.True(t, m.Degraded(1, time.Now(), time.Second))
}

func TestMetricsAggregator_DegradedWhenStale(t *testing.T) {
	m := NewMetricsAggregator()
	old := time.Now().Add(-10 * time.Second)
	m.Record(LoadSnapshot{InstanceID: 1, LastUpdated: old})

	assert.True(t, m.Degraded(1, time.Now(), 5*time.Second))
}

func TestMetricsAggregator_NotDegradedWhenFresh(t *testing.T) {
	m := NewMetricsAggregator()
	m.Record(LoadSnapshot{InstanceID: 1, LastUpdated: time.Now()})

	assert.False(t, m.Degraded(1, time.Now(), 5*time.Second))
}

func TestMetricsAggregator_SubscribeReceivesUpdates(t *testing.T) {
	m := NewMetricsAggregator()
	ch := m.Subscribe()
	snap := LoadSnapshot{InstanceID: 7, LastUpdated: time.Now()}
	m.Record(snap)

	select {
	case got := <-ch:
		assert.Equal(t, snap, got)
	default:
		t.Fatal("expected a snapshot on the watch channel")
	}
}
