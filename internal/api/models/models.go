package models

import (
	"time"

	"github.com/smazurov/doorbell/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// Device models
type DeviceData struct {
	ID     string `json:"id" example:"abc123" doc:"Cloud device identifier"`
	Name   string `json:"name" example:"Front Door" doc:"Device name"`
	Type   string `json:"type,omitempty" example:"doorbell" doc:"Device model family"`
	Status string `json:"status,omitempty" example:"up" doc:"Last reported status"`
}

type DeviceListData struct {
	Devices     []DeviceData `json:"devices" doc:"Known devices"`
	Count       int          `json:"count" example:"1" doc:"Number of devices"`
	LastRefresh time.Time    `json:"last_refresh,omitzero" doc:"When the list was last fetched from the cloud"`
}

type DeviceListResponse struct {
	Body DeviceListData
}

type DeviceResponse struct {
	Body DeviceData
}

type DeviceInfoData struct {
	Essid       string `json:"essid" example:"home" doc:"Wifi network"`
	SignalLevel string `json:"signal_level" example:"-52" doc:"Wifi signal level"`
	Noise       string `json:"noise" example:"-90" doc:"Wifi noise"`
	SNR         string `json:"snr" example:"38" doc:"Signal to noise ratio"`
	LinkQuality string `json:"link_quality" example:"70/70" doc:"Wifi link quality"`
	Bitrate     string `json:"bitrate" example:"72" doc:"Wifi bitrate"`
	Link        string `json:"link" example:"up" doc:"Wifi link status"`
}

type DeviceInfoResponse struct {
	Body DeviceInfoData
}

type ActivityData struct {
	ID         string    `json:"id" example:"act-1" doc:"Activity identifier"`
	Event      string    `json:"event" example:"device:sensor:motion" doc:"What happened"`
	State      string    `json:"state" example:"ready" doc:"Activity state"`
	VideoState string    `json:"video_state" example:"download:ready" doc:"Recording availability"`
	CreatedAt  time.Time `json:"created_at" doc:"When the activity happened"`
}

type ActivityListData struct {
	Activities []ActivityData `json:"activities" doc:"Device activity history"`
	Count      int            `json:"count" example:"10" doc:"Number of activities"`
}

type ActivityListResponse struct {
	Body ActivityListData
}

// Call models
type CallData struct {
	DeviceID   string    `json:"device_id" example:"abc123" doc:"Device identifier"`
	DeviceName string    `json:"device_name" example:"Front Door" doc:"Device name"`
	ActivityID string    `json:"activity_id,omitempty" doc:"Recorded activity, empty for live calls"`
	StreamType string    `json:"stream_type" example:"live" enum:"live,recording" doc:"Live call or recording playback"`
	State      string    `json:"state" example:"streaming" doc:"Session state"`
	Error      string    `json:"error,omitempty" doc:"Failure cause"`
	ErrorCode  string    `json:"error_code,omitempty" example:"UNEXPECTED_EXIT" doc:"Failure classification"`
	StartedAt  time.Time `json:"started_at" doc:"When the session was requested"`
	EndedAt    time.Time `json:"ended_at,omitzero" doc:"When the session ended"`
}

type CallRequestBody struct {
	ActivityID string `json:"activity_id,omitempty" example:"act-1" doc:"Play back this recorded activity instead of starting a live call"`
}

type CallRequest struct {
	DeviceID string `path:"device_id" example:"abc123" doc:"Device identifier"`
	Body     CallRequestBody
}

type CallResponse struct {
	Body CallData
}

type CallListData struct {
	Calls []CallData `json:"calls" doc:"Latest session of every device"`
	Count int        `json:"count" example:"1" doc:"Number of sessions"`
}

type CallListResponse struct {
	Body CallListData
}

// Transcoder models
type TranscoderProcessData struct {
	DeviceID      string    `json:"device_id" example:"abc123" doc:"Device identifier"`
	StreamType    string    `json:"stream_type" example:"live" doc:"live or recording"`
	PID           int       `json:"pid" example:"4242" doc:"Process id"`
	State         string    `json:"state" example:"spawned" doc:"Process state"`
	StartedAt     time.Time `json:"started_at" doc:"Spawn time"`
	Command       []string  `json:"command" doc:"Full argument vector"`
	FPS           float64   `json:"fps,omitempty" example:"15" doc:"Output frames per second"`
	Speed         float64   `json:"speed,omitempty" example:"1" doc:"Processing speed relative to realtime"`
	DroppedFrames float64   `json:"dropped_frames,omitempty" doc:"Frames dropped so far"`
}

type TranscoderData struct {
	Resolved  bool                    `json:"resolved" example:"true" doc:"Whether a working transcoder was found"`
	Command   string                  `json:"command,omitempty" example:"ffmpeg -protocol_whitelist pipe,rtp,udp,srtp,file" doc:"Resolved command prefix"`
	Processes []TranscoderProcessData `json:"processes" doc:"Running transcoder processes"`
}

type TranscoderResponse struct {
	Body TranscoderData
}
