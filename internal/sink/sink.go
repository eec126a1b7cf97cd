// Package sink describes where the transcoder writes a call's media.
package sink

import (
	"errors"
	"fmt"
	"strings"
)

// Sink kinds.
const (
	KindFile = "file"
	KindUDP  = "udp"
	KindRTSP = "rtsp"
	KindAuto = "auto"
)

// DefaultFileTarget is used when a file sink has no path.
const DefaultFileTarget = "./output.mp4"

// ErrUnknownKind is returned by New for an unsupported sink type.
var ErrUnknownKind = errors.New("unknown sink type")

// MediaSink is the output side of a transcoder invocation.
type MediaSink interface {
	Kind() string
	Target() string
	// OutputArgs returns the muxer options followed by the target, which
	// is always the last argument.
	OutputArgs() []string
}

// New builds a sink. KindAuto (or an empty kind) picks one from the
// target's scheme.
func New(kind, target string) (MediaSink, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || kind == KindAuto {
		kind = detectKind(target)
	}

	switch kind {
	case KindFile:
		if target == "" {
			target = DefaultFileTarget
		}
		return File{Path: target}, nil
	case KindUDP:
		if target == "" {
			return nil, fmt.Errorf("udp sink requires a target URL")
		}
		return UDP{URL: target}, nil
	case KindRTSP:
		if target == "" {
			return nil, fmt.Errorf("rtsp sink requires a target URL")
		}
		return RTSP{URL: target}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func detectKind(target string) string {
	switch {
	case strings.HasPrefix(target, "rtsp://"), strings.HasPrefix(target, "rtsps://"):
		return KindRTSP
	case strings.HasPrefix(target, "udp://"), strings.HasPrefix(target, "srt://"):
		return KindUDP
	default:
		return KindFile
	}
}

// File writes to a local file, container chosen by its extension.
type File struct {
	Path string
}

func (f File) Kind() string   { return KindFile }
func (f File) Target() string { return f.Path }

// OutputArgs overwrites an existing file; stdin carries the session
// description so ffmpeg cannot prompt.
func (f File) OutputArgs() []string {
	return []string{"-y", f.Path}
}

// UDP sends low-latency MPEG-TS.
type UDP struct {
	URL string
}

func (u UDP) Kind() string   { return KindUDP }
func (u UDP) Target() string { return u.URL }

func (u UDP) OutputArgs() []string {
	return []string{"-muxdelay", "0", "-muxpreload", "0", "-flush_packets", "1", "-f", "mpegts", u.URL}
}

// RTSP publishes to an RTSP server over TCP.
type RTSP struct {
	URL string
}

func (r RTSP) Kind() string   { return KindRTSP }
func (r RTSP) Target() string { return r.URL }

func (r RTSP) OutputArgs() []string {
	return []string{"-rtsp_transport", "tcp", "-f", "rtsp", r.URL}
}
