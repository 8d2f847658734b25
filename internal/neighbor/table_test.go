package neighbor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clockAt(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestProcessHelloDiscoversNewNeighbor(t *testing.T) {
	start := time.Unix(1000, 0)
	tbl := New("10.0.0.1").WithClock(clockAt(start))

	tbl.ProcessHello("10.0.0.2", 0)

	entry, ok := tbl.Get("10.0.0.2")
	require.True(t, ok)
	assert.EqualValues(t, 0, entry.LastSeq)
	assert.Equal(t, start, entry.LastHeard)
}

func TestProcessHelloRefreshesLastSeq(t *testing.T) {
	tbl := New("10.0.0.1").WithClock(clockAt(time.Unix(1000, 0)))

	tbl.ProcessHello("10.0.0.2", 0)
	tbl.ProcessHello("10.0.0.2", 7)

	entry, ok := tbl.Get("10.0.0.2")
	require.True(t, ok)
	assert.EqualValues(t, 7, entry.LastSeq)
}

func TestProcessHelloDoesNotRegressLastSeq(t *testing.T) {
	tbl := New("10.0.0.1").WithClock(clockAt(time.Unix(1000, 0)))

	tbl.ProcessHello("10.0.0.2", 7)
	tbl.ProcessHello("10.0.0.2", 3) // out of order, lower seq

	entry, ok := tbl.Get("10.0.0.2")
	require.True(t, ok)
	assert.EqualValues(t, 7, entry.LastSeq, "a lower seq must not regress last_seq")
}

func TestProcessHelloRefreshesLivenessEvenWithoutSeqAdvance(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	clock := &now
	tbl := New("10.0.0.1").WithClock(func() time.Time { return *clock })

	tbl.ProcessHello("10.0.0.2", 7)
	*clock = start.Add(5 * time.Second)
	tbl.ProcessHello("10.0.0.2", 3)

	entry, ok := tbl.Get("10.0.0.2")
	require.True(t, ok)
	assert.Equal(t, start.Add(5*time.Second), entry.LastHeard)
}

func TestProcessHelloHandlesSequenceWraparound(t *testing.T) {
	tbl := New("10.0.0.1").WithClock(clockAt(time.Unix(1000, 0)))

	tbl.ProcessHello("10.0.0.2", 65534)
	tbl.ProcessHello("10.0.0.2", 65535)
	tbl.ProcessHello("10.0.0.2", 0) // wrapped, but ahead of 65535

	entry, ok := tbl.Get("10.0.0.2")
	require.True(t, ok)
	assert.EqualValues(t, 0, entry.LastSeq)
}

func TestProcessHelloSelfFilter(t *testing.T) {
	tbl := New("10.0.0.1").WithClock(clockAt(time.Unix(1000, 0)))

	tbl.ProcessHello("10.0.0.1", 5)

	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveStaleEvictsPastTimeout(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	tbl := New("10.0.0.1").WithClock(func() time.Time { return now })

	tbl.ProcessHello("10.0.0.2", 0)
	tbl.ProcessHello("10.0.0.2", 7)

	now = start.Add(11 * time.Second)
	evicted := tbl.RemoveStale()

	assert.Equal(t, []string{"10.0.0.2"}, evicted)
	assert.Equal(t, 0, tbl.Len())
}

func TestRemoveStaleKeepsExactlyAtTimeout(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	tbl := New("10.0.0.1").WithClock(func() time.Time { return now })

	tbl.ProcessHello("10.0.0.2", 0)

	now = start.Add(10 * time.Second) // equality is not stale
	evicted := tbl.RemoveStale()

	assert.Empty(t, evicted)
	assert.Equal(t, 1, tbl.Len())
}

func TestBuildHelloIncrementsSeq(t *testing.T) {
	tbl := New("10.0.0.1").WithClock(clockAt(time.Unix(1000, 0)))

	assert.Equal(t, "10.0.0.1:HELLO:0", tbl.BuildHello())
	assert.Equal(t, "10.0.0.1:HELLO:1", tbl.BuildHello())
}
