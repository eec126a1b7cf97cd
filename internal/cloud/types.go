package cloud

import "time"

// Device is a doorbell registered to the authenticated account.
type Device struct {
	ID     string `json:"id"     toml:"id"`
	Name   string `json:"name"   toml:"name"`
	Type   string `json:"type"   toml:"type,omitempty"`
	Status string `json:"status" toml:"status,omitempty"`
}

// DeviceInfo carries the wifi telemetry reported by a device.
type DeviceInfo struct {
	Essid           string `json:"essid"`
	WifiSignalLevel string `json:"wifiSignalLevel"`
	WifiNoise       string `json:"wifiNoise"`
	WifiSnr         string `json:"wifiSnr"`
	WifiLinkQuality string `json:"wifiLinkQuality"`
	WifiBitrate     string `json:"wifiBitrate"`
	Status          struct {
		WifiLink string `json:"wifiLink"`
	} `json:"status"`
}

// Activity is one entry of a device's event history (button press, motion).
type Activity struct {
	ID         string    `json:"id"`
	CallID     string    `json:"callId"`
	Event      string    `json:"event"`
	State      string    `json:"state"`
	VideoState string    `json:"videoState"`
	CreatedAt  time.Time `json:"createdAt"`
}

// StreamEndpoint describes one encrypted incoming media stream as returned
// by call negotiation. Key arrives base64 encoded and is decoded by
// encoding/json.
type StreamEndpoint struct {
	Server      string `json:"server"`
	Port        uint16 `json:"port"`
	PayloadType uint8  `json:"payloadType"`
	Encoding    string `json:"encoding"`
	SampleRate  uint32 `json:"sampleRate"`
	Channels    uint8  `json:"channels"`
	Key         []byte `json:"key"`
	SSRC        uint32 `json:"ssrc"`
}

// CallEndpoints is the negotiation result for a live call.
type CallEndpoints struct {
	IncomingVideo StreamEndpoint `json:"incomingVideo"`
	IncomingAudio StreamEndpoint `json:"incomingAudio"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
}

type logoutRequest struct {
	AppID string `json:"appId"`
}

type videoURLResponse struct {
	URL string `json:"url"`
}
