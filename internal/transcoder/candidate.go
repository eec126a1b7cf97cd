package transcoder

import (
	"slices"
	"strings"
)

// Candidate is one way of invoking the transcoder.
type Candidate struct {
	Executable string   `json:"executable"`
	FixedArgs  []string `json:"fixed_args"`
}

// DefaultCandidates are probed in order. The whitelisted variants are
// needed by ffmpeg builds that refuse RTP input from a pipe.
var DefaultCandidates = []Candidate{
	{Executable: "ffmpeg", FixedArgs: []string{"-protocol_whitelist", "pipe,rtp,udp,srtp,file"}},
	{Executable: "avconv", FixedArgs: []string{"-protocol_whitelist", "pipe,rtp,udp,srtp,file"}},
	{Executable: "ffmpeg"},
	{Executable: "avconv"},
}

// Argv returns the fixed arguments followed by tail.
func (c Candidate) Argv(tail ...string) []string {
	argv := slices.Clone(c.FixedArgs)
	return append(argv, tail...)
}

func (c Candidate) String() string {
	return strings.Join(append([]string{c.Executable}, c.FixedArgs...), " ")
}

// StreamType tells live calls from recorded activity playback.
type StreamType string

// Stream types.
const (
	StreamTypeLive      StreamType = "live"
	StreamTypeRecording StreamType = "recording"
)

// SessionKey identifies one transcoder process.
type SessionKey struct {
	DeviceID   string
	StreamType StreamType
}

func (k SessionKey) String() string {
	return k.DeviceID + "/" + string(k.StreamType)
}
