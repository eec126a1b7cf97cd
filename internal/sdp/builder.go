// Package sdp builds the session description handed to the transcoder for a
// negotiated call.
package sdp

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"

	"github.com/smazurov/doorbell/internal/cloud"
)

// ErrInvalidEndpoint is returned when a stream endpoint lacks a field the
// description needs.
var ErrInvalidEndpoint = errors.New("invalid stream endpoint")

const cryptoSuite = "AES_CM_128_HMAC_SHA1_80"

// SessionDescription is an immutable, ordered list of SDP lines.
type SessionDescription struct {
	lines []string
}

// Lines returns a copy of the description lines.
func (d *SessionDescription) Lines() []string {
	return append([]string(nil), d.lines...)
}

// String joins the lines with newlines, the form written to the
// transcoder's stdin.
func (d *SessionDescription) String() string {
	return strings.Join(d.lines, "\n") + "\n"
}

// Build validates both endpoints and renders a description with one media
// section per stream. label is used for the session name.
func Build(video, audio cloud.StreamEndpoint, label string) (*SessionDescription, error) {
	if err := validate("video", video, false); err != nil {
		return nil, err
	}
	if err := validate("audio", audio, true); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(label)
	if name == "" {
		name = "doorbell"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      0,
			SessionVersion: 0,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "127.0.0.1",
		},
		SessionName:      sdp.SessionName(name + " in"),
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
		MediaDescriptions: []*sdp.MediaDescription{
			media("video", video, fmt.Sprintf("%s/%d", video.Encoding, video.SampleRate)),
			// The transcoder is told the audio is raw PCM; the payload name
			// records the rate and channel count it really carries.
			media("audio", audio, fmt.Sprintf("L16/%d/%d", audio.SampleRate, audio.Channels)),
		},
	}

	raw, err := desc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session description: %w", err)
	}

	text := strings.TrimRight(strings.ReplaceAll(string(raw), "\r\n", "\n"), "\n")
	return &SessionDescription{lines: strings.Split(text, "\n")}, nil
}

func media(kind string, ep cloud.StreamEndpoint, rtpmap string) *sdp.MediaDescription {
	pt := strconv.Itoa(int(ep.PayloadType))
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   kind,
			Port:    sdp.RangedPort{Value: int(ep.Port)},
			Protos:  []string{"RTP", "SAVP"},
			Formats: []string{pt},
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addressType(ep.Server),
			Address:     &sdp.Address{Address: ep.Server},
		},
	}
	return md.
		WithValueAttribute("rtpmap", pt+" "+rtpmap).
		WithValueAttribute("crypto", "1 "+cryptoSuite+" inline:"+base64.StdEncoding.EncodeToString(ep.Key)).
		WithValueAttribute("ssrc", strconv.FormatUint(uint64(ep.SSRC), 10))
}

// addressType is IP4 only for IPv4 literals; anything else is tagged IP6.
func addressType(server string) string {
	if addr, err := netip.ParseAddr(server); err == nil && addr.Unmap().Is4() {
		return "IP4"
	}
	return "IP6"
}

func validate(kind string, ep cloud.StreamEndpoint, needChannels bool) error {
	switch {
	case ep.Server == "":
		return fmt.Errorf("%w: %s server missing", ErrInvalidEndpoint, kind)
	case ep.Port == 0:
		return fmt.Errorf("%w: %s port missing", ErrInvalidEndpoint, kind)
	case ep.Encoding == "" && !needChannels:
		return fmt.Errorf("%w: %s encoding missing", ErrInvalidEndpoint, kind)
	case ep.SampleRate == 0:
		return fmt.Errorf("%w: %s sample rate missing", ErrInvalidEndpoint, kind)
	case needChannels && ep.Channels == 0:
		return fmt.Errorf("%w: %s channels missing", ErrInvalidEndpoint, kind)
	case len(ep.Key) == 0:
		return fmt.Errorf("%w: %s key missing", ErrInvalidEndpoint, kind)
	}
	return nil
}
