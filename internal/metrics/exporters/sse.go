package exporters

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/smazurov/doorbell/internal/events"
	"github.com/smazurov/doorbell/internal/metrics"
)

// EventPublisher interface for publishing events.
type EventPublisher interface {
	Publish(ev events.Event)
}

// SSEExporter samples transcoder progress and publishes it on the event
// bus for /api/events. A sample identical to the last one published for
// the same session is skipped, so a stalled transcoder goes quiet.
type SSEExporter struct {
	bus      EventPublisher
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	last   map[string]events.TranscoderProgressEvent
}

// NewSSEExporter creates an exporter sampling once per second.
func NewSSEExporter(bus EventPublisher) *SSEExporter {
	return &SSEExporter{
		bus:      bus,
		interval: time.Second,
		last:     make(map[string]events.TranscoderProgressEvent),
	}
}

// Start begins sampling until ctx is done or Stop is called. Starting a
// running exporter is a no-op.
func (s *SSEExporter) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx, s.done)
}

// Stop ends sampling and waits for the loop to exit.
func (s *SSEExporter) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *SSEExporter) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.publish()
		}
	}
}

func (s *SSEExporter) publish() {
	seen := make(map[string]bool)
	for _, p := range metrics.GetAllTranscoderProgress() {
		key := p.DeviceID + "/" + p.StreamType
		seen[key] = true
		ev := events.TranscoderProgressEvent{
			DeviceID:      p.DeviceID,
			StreamType:    p.StreamType,
			FPS:           strconv.FormatFloat(p.FPS, 'f', 2, 64),
			Speed:         strconv.FormatFloat(p.Speed, 'f', 2, 64),
			DroppedFrames: strconv.FormatFloat(p.DroppedFrames, 'f', 0, 64),
		}
		if prev, ok := s.last[key]; ok && prev == ev {
			continue
		}
		s.last[key] = ev
		s.bus.Publish(ev)
	}
	for key := range s.last {
		if !seen[key] {
			delete(s.last, key)
		}
	}
}
