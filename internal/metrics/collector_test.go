package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCollectorCounters(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	c := NewCollector(time.Hour, zap.New(core))

	items := c.Counter("items")
	assert.Same(t, items, c.Counter("items"))
	items.Add(10)

	c.collect()
	first := c.Last()
	require.NotNil(t, first)
	assert.Equal(t, int64(10), first.Counters["items"])
	assert.Zero(t, first.Rates["items"])

	c.lastSample = c.lastSample.Add(-2 * time.Second)
	items.Add(20)
	c.collect()
	second := c.Last()
	assert.Equal(t, int64(30), second.Counters["items"])
	assert.InDelta(t, 10.0, second.Rates["items"], 1.0)

	require.Equal(t, 2, logs.FilterMessage("System metrics").Len())
	assert.Equal(t, int64(30), logs.All()[1].ContextMap()["items"])
}

func TestNewCollectorMinimumInterval(t *testing.T) {
	c := NewCollector(time.Millisecond, zap.NewNop())
	assert.Equal(t, 30*time.Second, c.interval)
}

func TestStartStopsOnCancel(t *testing.T) {
	c := NewCollector(time.Hour, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not stop")
	}
	assert.NotNil(t, c.Last())
}

func TestFormatFloat(t *testing.T) {
	assert.Equal(t, "0.0", formatFloat(0.01))
	assert.Equal(t, "12.3", formatFloat(12.34))
}
