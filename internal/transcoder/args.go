package transcoder

import (
	"strconv"

	"github.com/smazurov/doorbell/internal/sink"
)

// CommonDecodeArgs precede every live call's output arguments. Audio is
// decoded as raw 16-bit PCM and the session description is read from
// stdin.
var CommonDecodeArgs = []string{
	"-threads", "0",
	"-loglevel", "level+warning",
	"-acodec", "pcm_s16le",
	"-i", "-",
}

// OutputOptions controls what the transcoder does with the video.
type OutputOptions struct {
	Width    int    // with Height, re-encode to a fixed size
	Height   int
	FPS      int    // output frame rate when re-encoding, 0 keeps the source rate
	Bitrate  string // e.g. "1M", only when re-encoding
	Progress bool   // emit -progress reports on stdout
}

// Reencodes reports whether the video is re-encoded instead of copied.
func (o OutputOptions) Reencodes() bool {
	return o.Width > 0 && o.Height > 0
}

// OutputArgs builds the argument tail for a call: video codec options,
// progress reporting, then the sink's format and target.
func OutputArgs(opts OutputOptions, out sink.MediaSink) []string {
	var args []string

	if opts.Reencodes() {
		args = append(args,
			"-vf", "scale="+strconv.Itoa(opts.Width)+":"+strconv.Itoa(opts.Height),
			"-vcodec", "libx264",
			"-tune", "zerolatency",
		)
		if opts.FPS > 0 {
			args = append(args, "-r", strconv.Itoa(opts.FPS))
		}
		if opts.Bitrate != "" {
			args = append(args, "-b:v", opts.Bitrate)
		}
	} else {
		args = append(args, "-vcodec", "copy")
	}

	if opts.Progress {
		args = append(args, "-progress", "pipe:1", "-nostats")
	}

	return append(args, out.OutputArgs()...)
}

// PlaybackInputArgs reads a recorded activity from url instead of stdin.
func PlaybackInputArgs(url string) []string {
	return []string{
		"-threads", "0",
		"-loglevel", "level+warning",
		"-i", url,
	}
}
