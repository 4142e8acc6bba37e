package metrics

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorAggregates(t *testing.T) {
	c := NewCollector()
	c.RecordTiming(OpSDSSubmit, 10*time.Millisecond)
	c.RecordTiming(OpSDSSubmit, 30*time.Millisecond)
	c.RecordError(OpSDSSubmit, 20*time.Millisecond)
	c.RecordTiming(OpCatalogQuery, 5*time.Millisecond)

	snap := c.Snapshot()
	require.Len(t, snap.Ops, 2)

	assert.Equal(t, OpCatalogQuery, snap.Ops[0].Op)
	sub := snap.Ops[1]
	assert.Equal(t, OpSDSSubmit, sub.Op)
	assert.Equal(t, int64(3), sub.Count)
	assert.Equal(t, int64(1), sub.Errors)
	assert.Equal(t, int64(60), sub.TotalTimeMs)
	assert.Equal(t, float64(20), sub.AvgTimeMs)
	assert.Equal(t, int64(10), sub.MinTimeMs)
	assert.Equal(t, int64(30), sub.MaxTimeMs)
}

func TestTrackCountsErrors(t *testing.T) {
	c := NewCollector()
	c.Track(OpDispatch, time.Now(), nil)
	c.Track(OpDispatch, time.Now(), errors.New("boom"))

	snap := c.Snapshot()
	require.Len(t, snap.Ops, 1)
	assert.Equal(t, int64(2), snap.Ops[0].Count)
	assert.Equal(t, int64(1), snap.Ops[0].Errors)
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordTiming(OpIndexSearch, time.Second)
		c.Track(OpIndexSearch, time.Now(), nil)
	})
	assert.Empty(t, c.Snapshot().Ops)
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	c := NewCollector()
	c.RecordTiming(OpStorageCopy, time.Millisecond)

	c.Log(slog.New(slog.NewTextHandler(&buf, nil)))

	assert.Contains(t, buf.String(), "msg=\"call metrics\"")
	assert.NotContains(t, buf.String(), "job metrics")
	assert.Contains(t, buf.String(), "op=storage_copy")
}
