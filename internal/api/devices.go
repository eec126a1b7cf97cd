package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/doorbell/internal/api/models"
	"github.com/smazurov/doorbell/internal/cloud"
	"github.com/smazurov/doorbell/internal/devices"
)

// DevicePathInput identifies a device in the URL.
type DevicePathInput struct {
	DeviceID string `path:"device_id" example:"abc123" doc:"Cloud device identifier"`
}

func (s *Server) registerDeviceRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-devices",
		Method:      http.MethodGet,
		Path:        "/api/devices",
		Summary:     "List Devices",
		Description: "List the account's doorbells as last fetched from the cloud",
		Tags:        []string{"devices"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		return s.deviceList(s.options.Devices.List()), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "refresh-devices",
		Method:        http.MethodPost,
		Path:          "/api/devices/refresh",
		Summary:       "Refresh Devices",
		Description:   "Fetch the device list from the cloud now",
		Tags:          []string{"devices"},
		DefaultStatus: http.StatusOK,
		Errors:        []int{401, 502},
		Security:      withAuth(),
	}, func(ctx context.Context, _ *struct{}) (*models.DeviceListResponse, error) {
		list, err := s.options.Devices.Refresh(ctx)
		if err != nil {
			return nil, s.mapCloudError("failed to refresh devices", err)
		}
		return s.deviceList(list), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}",
		Summary:     "Get Device",
		Tags:        []string{"devices"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *DevicePathInput) (*models.DeviceResponse, error) {
		d, err := s.options.Devices.Resolve(input.DeviceID)
		if err != nil {
			return nil, huma.Error404NotFound("device not found", err)
		}
		return &models.DeviceResponse{Body: toDeviceData(d)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-device-info",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/info",
		Summary:     "Get Device Wifi Info",
		Description: "Fetch wifi telemetry reported by the device",
		Tags:        []string{"devices"},
		Errors:      []int{401, 404, 502},
		Security:    withAuth(),
	}, func(ctx context.Context, input *DevicePathInput) (*models.DeviceInfoResponse, error) {
		if _, err := s.options.Devices.Resolve(input.DeviceID); err != nil {
			return nil, huma.Error404NotFound("device not found", err)
		}
		info, err := s.options.Cloud.DeviceInfo(ctx, input.DeviceID)
		if err != nil {
			return nil, s.mapCloudError("failed to fetch device info", err)
		}
		return &models.DeviceInfoResponse{Body: models.DeviceInfoData{
			Essid:       info.Essid,
			SignalLevel: info.WifiSignalLevel,
			Noise:       info.WifiNoise,
			SNR:         info.WifiSnr,
			LinkQuality: info.WifiLinkQuality,
			Bitrate:     info.WifiBitrate,
			Link:        info.Status.WifiLink,
		}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-device-activities",
		Method:      http.MethodGet,
		Path:        "/api/devices/{device_id}/activities",
		Summary:     "List Activities",
		Description: "Fetch the device's event history; recorded activities can be played back",
		Tags:        []string{"devices"},
		Errors:      []int{401, 404, 502},
		Security:    withAuth(),
	}, func(ctx context.Context, input *DevicePathInput) (*models.ActivityListResponse, error) {
		if _, err := s.options.Devices.Resolve(input.DeviceID); err != nil {
			return nil, huma.Error404NotFound("device not found", err)
		}
		acts, err := s.options.Cloud.Activities(ctx, input.DeviceID)
		if err != nil {
			return nil, s.mapCloudError("failed to fetch activities", err)
		}
		out := make([]models.ActivityData, len(acts))
		for i, a := range acts {
			out[i] = models.ActivityData{
				ID:         a.ID,
				Event:      a.Event,
				State:      a.State,
				VideoState: a.VideoState,
				CreatedAt:  a.CreatedAt,
			}
		}
		return &models.ActivityListResponse{Body: models.ActivityListData{Activities: out, Count: len(out)}}, nil
	})
}

func (s *Server) deviceList(list []cloud.Device) *models.DeviceListResponse {
	out := make([]models.DeviceData, len(list))
	for i, d := range list {
		out[i] = toDeviceData(d)
	}
	return &models.DeviceListResponse{Body: models.DeviceListData{
		Devices:     out,
		Count:       len(out),
		LastRefresh: s.options.Devices.LastRefresh(),
	}}
}

func toDeviceData(d cloud.Device) models.DeviceData {
	return models.DeviceData{ID: d.ID, Name: d.Name, Type: d.Type, Status: d.Status}
}

// mapCloudError maps cloud client failures to HTTP errors.
func (s *Server) mapCloudError(msg string, err error) error {
	var apiErr *cloud.APIError
	switch {
	case errors.Is(err, devices.ErrDeviceNotFound):
		return huma.Error404NotFound(msg, err)
	case errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound:
		return huma.Error404NotFound(msg, err)
	case errors.Is(err, cloud.ErrNotAuthenticated), cloud.IsAuthError(err):
		return huma.Error502BadGateway(msg+": cloud login failed", err)
	default:
		return huma.Error502BadGateway(msg, err)
	}
}
