package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/doorbell/internal/api/models"
	"github.com/smazurov/doorbell/internal/metrics"
)

func (s *Server) registerTranscoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-transcoder",
		Method:      http.MethodGet,
		Path:        "/api/transcoder",
		Summary:     "Transcoder Status",
		Description: "Resolved transcoder command and the processes currently running",
		Tags:        []string{"transcoder"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.TranscoderResponse, error) {
		data := models.TranscoderData{Processes: []models.TranscoderProcessData{}}
		if cmd, ok := s.options.Resolver.Resolved(); ok {
			data.Resolved = true
			data.Command = cmd.String()
		}

		for _, p := range s.options.Processes.List() {
			proc := models.TranscoderProcessData{
				DeviceID:   p.Key.DeviceID,
				StreamType: string(p.Key.StreamType),
				PID:        p.PID,
				State:      string(p.State),
				StartedAt:  p.StartedAt,
				Command:    p.Command,
			}
			if prog := metrics.GetTranscoderProgress(p.Key.DeviceID, string(p.Key.StreamType)); prog != nil {
				proc.FPS = prog.FPS
				proc.Speed = prog.Speed
				proc.DroppedFrames = prog.DroppedFrames
			}
			data.Processes = append(data.Processes, proc)
		}

		return &models.TranscoderResponse{Body: data}, nil
	})
}
