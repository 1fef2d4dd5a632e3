package memory

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkingMemoryCapacityEviction(t *testing.T) {
	w := NewWorkingMemory(3)
	w.SetCurrentTask("t1")

	w.Store("low", "least relevant", 0.1)
	w.Store("mid", "somewhat relevant", 0.5)
	w.Store("high", "most relevant", 0.9)
	require.Equal(t, 3, w.Len())

	w.Store("new", "fresh item", 0.8)
	assert.Equal(t, 3, w.Len())

	_, ok := w.Get("low")
	assert.False(t, ok, "lowest-scoring item should be evicted")
	_, ok = w.Get("high")
	assert.True(t, ok)
	_, ok = w.Get("new")
	assert.True(t, ok)
}

func TestWorkingMemoryClearedOnTaskSwitch(t *testing.T) {
	w := NewWorkingMemory(5)
	w.SetCurrentTask("t1")
	w.Store("k", "task one scratch", 0.9)
	require.Equal(t, 1, w.Len())

	w.SetCurrentTask("t2")
	assert.Equal(t, 0, w.Len(), "nothing from t1 may survive the switch")
	assert.Equal(t, "t2", w.CurrentTask())

	// Re-binding the same task keeps items.
	w.Store("k2", "task two scratch", 0.5)
	w.SetCurrentTask("t2")
	assert.Equal(t, 1, w.Len())
}

func TestWorkingMemoryStoreReplacesExisting(t *testing.T) {
	w := NewWorkingMemory(2)
	w.Store("k", "v1", 0.5)
	w.Store("k", "v2", 0.7)
	require.Equal(t, 1, w.Len())
	got, ok := w.Get("k")
	require.True(t, ok)
	assert.Equal(t, "v2", got)
}

func TestWorkingMemoryToContextString(t *testing.T) {
	w := NewWorkingMemory(10)

	assert.Empty(t, w.ToContextString(5))

	for i := 0; i < 4; i++ {
		w.Store(fmt.Sprintf("k%d", i), fmt.Sprintf("content %d", i), float64(i)*0.25)
	}

	out := w.ToContextString(2)
	assert.Contains(t, out, "k3")
	assert.Contains(t, out, "k2")
	assert.NotContains(t, out, "k0")
}

func TestWorkingMemoryRelevanceClamped(t *testing.T) {
	w := NewWorkingMemory(5)
	w.Store("over", "x", 1.5)
	w.Store("under", "y", -0.5)
	out := w.ToContextString(2)
	assert.Contains(t, out, "over")
	assert.Contains(t, out, "under")
}
