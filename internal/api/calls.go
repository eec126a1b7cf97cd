package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/doorbell/internal/api/models"
	"github.com/smazurov/doorbell/internal/call"
)

func (s *Server) registerCallRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "start-call",
		Method:        http.MethodPost,
		Path:          "/api/devices/{device_id}/call",
		Summary:       "Start Call",
		Description:   "Start a live call, or play back a recorded activity when activity_id is set. Returns once the transcoder is running.",
		Tags:          []string{"calls"},
		DefaultStatus: http.StatusCreated,
		Errors:        []int{401, 404, 409, 500, 502, 503},
		Security:      withAuth(),
	}, func(ctx context.Context, input *models.CallRequest) (*models.CallResponse, error) {
		session, err := s.options.Calls.StartCameraStream(ctx, input.DeviceID, input.Body.ActivityID)
		if err != nil {
			return nil, s.mapCallError(err)
		}
		return &models.CallResponse{Body: toCallData(session.Info())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-call",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/call",
		Summary:     "Get Call",
		Description: "Get the device's latest session, which may have ended",
		Tags:        []string{"calls"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *DevicePathInput) (*models.CallResponse, error) {
		session, ok := s.options.Calls.Session(input.DeviceID)
		if !ok {
			return nil, huma.Error404NotFound("no call for device")
		}
		return &models.CallResponse{Body: toCallData(session.Info())}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "stop-call",
		Method:        http.MethodDelete,
		Path:          "/api/devices/{device_id}/call",
		Summary:       "Stop Call",
		Description:   "Stop a streaming session and hang up. Stopping an ended session succeeds.",
		Tags:          []string{"calls"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 409},
		Security:      withAuth(),
	}, func(ctx context.Context, input *DevicePathInput) (*struct{}, error) {
		if err := s.options.Calls.StopCameraStream(ctx, input.DeviceID); err != nil {
			return nil, s.mapCallError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-calls",
		Method:      http.MethodGet,
		Path:        "/api/calls",
		Summary:     "List Calls",
		Description: "Latest session of every device",
		Tags:        []string{"calls"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.CallListResponse, error) {
		infos := s.options.Calls.Sessions()
		out := make([]models.CallData, len(infos))
		for i, info := range infos {
			out[i] = toCallData(info)
		}
		return &models.CallListResponse{Body: models.CallListData{Calls: out, Count: len(out)}}, nil
	})
}

func toCallData(info call.Info) models.CallData {
	return models.CallData{
		DeviceID:   info.DeviceID,
		DeviceName: info.DeviceName,
		ActivityID: info.ActivityID,
		StreamType: info.StreamType,
		State:      info.State,
		Error:      info.Error,
		ErrorCode:  info.ErrorCode,
		StartedAt:  info.StartedAt,
		EndedAt:    info.EndedAt,
	}
}

// mapCallError maps call errors to HTTP errors
func (s *Server) mapCallError(err error) error {
	switch call.Code(err) {
	case call.ErrCodeDeviceNotFound, call.ErrCodeCallNotFound:
		return huma.Error404NotFound(err.Error(), err)
	case call.ErrCodeCallInProgress, call.ErrCodeInvalidState:
		return huma.Error409Conflict(err.Error(), err)
	case call.ErrCodeNoTranscoder:
		return huma.Error503ServiceUnavailable(err.Error(), err)
	case call.ErrCodeNegotiationFailed, call.ErrCodePunchFailed, call.ErrCodeInvalidEndpoint:
		return huma.Error502BadGateway(err.Error(), err)
	case call.ErrCodeSpawnFailed, call.ErrCodeUnexpectedExit:
		return huma.Error500InternalServerError(err.Error(), err)
	default:
		return huma.Error500InternalServerError("internal server error", err)
	}
}
