package kvrouter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelector_Default(t *testing.T) {
	assert.IsType(t, DefaultSelector{}, NewSelector(""))
	assert.IsType(t, DefaultSelector{}, NewSelector("default"))
}

func TestNewSelector_Random(t *testing.T) {
	assert.IsType(t, &RandomSelector{}, NewSelector("random"))
}

func TestNewSelector_RoundRobin(t *testing.T) {
	assert.IsType(t, &RoundRobinSelector{}, NewSelector("round_robin"))
}

func TestNewSelector_PanicsOnUnknownName(t *testing.T) {
	assert.Panics(t, func() { NewSelector("bogus") })
}

func TestIsValidSelector(t *testing.T) {
	assert.True(t, IsValidSelector("default"))
	assert.True(t, IsValidSelector("random"))
	assert.True(t, IsValidSelector("round_robin"))
	assert.True(t, IsValidSelector(""))
	assert.False(t, IsValidSelector("bogus"))
}

func TestRoundRobinSelector_CyclesInAscendingIDOrder(t *testing.T) {
	rr := &RoundRobinSelector{}
	live := []WorkerID{3, 1, 2}
	first, err := rr.Select(live, nil, nil, SchedulingRequest{}, 4, DefaultCoefficients())
	require.NoError(t, err)
	second, err := rr.Select(live, nil, nil, SchedulingRequest{}, 4, DefaultCoefficients())
	require.NoError(t, err)
	third, err := rr.Select(live, nil, nil, SchedulingRequest{}, 4, DefaultCoefficients())
	require.NoError(t, err)

	assert.Equal(t, WorkerID(1), first.WorkerID)
	assert.Equal(t, WorkerID(2), second.WorkerID)
	assert.Equal(t, WorkerID(3), third.WorkerID)
}

func TestRandomSelector_AlwaysPicksALiveWorker(t *testing.T) {
	r := &RandomSelector{}
	live := []WorkerID{1, 2, 3}
	result, err := r.Select(live, OverlapVector{}, nil, SchedulingRequest{}, 4, DefaultCoefficients())
	require.NoError(t, err)
	assert.Contains(t, live, result.WorkerID)
}

func TestCapacityFilter_FallsBackWhenAllInsufficient(t *testing.T) {
	live := []WorkerID{1, 2}
	load := map[WorkerID]LoadSnapshot{
		1: {FreeKVBlocks: 0, LastUpdated: time.Now()},
		2: {FreeKVBlocks: 0, LastUpdated: time.Now()},
	}
	filtered := capacityFilter(live, load, SchedulingRequest{InputSequenceLen: 100}, 4)
	assert.ElementsMatch(t, live, filtered)
}

func TestCapacityFilter_DropsInsufficientWorker(t *testing.T) {
	live := []WorkerID{1, 2}
	load := map[WorkerID]LoadSnapshot{
		1: {FreeKVBlocks: 2, LastUpdated: time.Now()},
		2: {FreeKVBlocks: 100, LastUpdated: time.Now()},
	}
	filtered := capacityFilter(live, load, SchedulingRequest{InputSequenceLen: 100}, 4)
	assert.Equal(t, []WorkerID{2}, filtered)
}
