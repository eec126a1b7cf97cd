package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/doorbell/internal/events"
)

// ConnectedEvent is the first message on every event stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z"`
}

func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time call state changes, transcoder exits and progress, and device list changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":           ConnectedEvent{},
		"call-state-changed":  events.CallStateChangedEvent{},
		"transcoder-exited":   events.TranscoderExitedEvent{},
		"transcoder-resolved": events.TranscoderResolvedEvent{},
		"transcoder-progress": events.TranscoderProgressEvent{},
		"device-discovery":    events.DeviceDiscoveryEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)

		unsubscribers := []func(){
			events.SubscribeToChannel[events.CallStateChangedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TranscoderExitedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TranscoderResolvedEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.TranscoderProgressEvent](s.eventBus, eventCh),
			events.SubscribeToChannel[events.DeviceDiscoveryEvent](s.eventBus, eventCh),
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		if err := send.Data(ConnectedEvent{
			Message:   "SSE connection established",
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
