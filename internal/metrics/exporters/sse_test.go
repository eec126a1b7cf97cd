package exporters

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/metrics"
)

type mockEventBus struct {
	mu        sync.Mutex
	events    []events.Event
	published chan struct{}
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{published: make(chan struct{}, 100)}
}

func (m *mockEventBus) Publish(ev events.Event) {
	m.mu.Lock()
	m.events = append(m.events, ev)
	m.mu.Unlock()
	select {
	case m.published <- struct{}{}:
	default:
	}
}

func (m *mockEventBus) getEvents() []events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]events.Event(nil), m.events...)
}

func TestSSEExporterPublishesProgress(t *testing.T) {
	metrics.SetTranscoderFPS("sse-dev", "live", 30.0)
	metrics.SetTranscoderDroppedFrames("sse-dev", "live", 5)
	metrics.SetTranscoderSpeed("sse-dev", "live", 1.0)
	defer metrics.DeleteTranscoderProgress("sse-dev", "live")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 20 * time.Millisecond

	exporter.Start(context.Background())
	select {
	case <-mock.published:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for progress publish")
	}
	exporter.Stop()

	var found *events.TranscoderProgressEvent
	for _, ev := range mock.getEvents() {
		if p, ok := ev.(events.TranscoderProgressEvent); ok && p.DeviceID == "sse-dev" {
			found = &p
			break
		}
	}
	require.NotNil(t, found)
	assert.Equal(t, "live", found.StreamType)
	assert.Equal(t, "30.00", found.FPS)
	assert.Equal(t, "1.00", found.Speed)
	assert.Equal(t, "5", found.DroppedFrames)
}

func TestSSEExporterStopIdempotent(t *testing.T) {
	metrics.SetTranscoderFPS("sse-idempotent", "live", 30.0)
	defer metrics.DeleteTranscoderProgress("sse-idempotent", "live")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)
	exporter.interval = 10 * time.Millisecond

	exporter.Stop()
	exporter.Start(t.Context())
	time.Sleep(30 * time.Millisecond)

	exporter.Stop()
	exporter.Stop()

	count := len(mock.getEvents())
	time.Sleep(30 * time.Millisecond)
	assert.Len(t, mock.getEvents(), count, "events published after stop")
	assert.NotZero(t, count)
}

func TestSSEExporterSkipsUnchangedSamples(t *testing.T) {
	metrics.SetTranscoderFPS("sse-dedupe", "live", 15.0)
	defer metrics.DeleteTranscoderProgress("sse-dedupe", "live")

	mock := newMockEventBus()
	exporter := NewSSEExporter(mock)

	count := func() int {
		n := 0
		for _, ev := range mock.getEvents() {
			if p, ok := ev.(events.TranscoderProgressEvent); ok && p.DeviceID == "sse-dedupe" {
				n++
			}
		}
		return n
	}

	exporter.publish()
	exporter.publish()
	assert.Equal(t, 1, count())

	metrics.SetTranscoderFPS("sse-dedupe", "live", 14.0)
	exporter.publish()
	assert.Equal(t, 2, count())
}
