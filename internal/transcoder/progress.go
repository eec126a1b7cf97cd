package transcoder

import (
	"strconv"
	"strings"

	"github.com/smazurov/doorbell/internal/metrics"
)

// progressParser collects "-progress" key=value blocks from stdout and
// updates the session's metrics at each "progress=" line.
type progressParser struct {
	key  SessionKey
	data map[string]string
}

func newProgressParser(key SessionKey) *progressParser {
	return &progressParser{key: key, data: make(map[string]string)}
}

// handle consumes a progress line and reports whether it was one.
func (p *progressParser) handle(line string) bool {
	line = strings.TrimSpace(line)
	k, v, ok := strings.Cut(line, "=")
	if !ok || k == "" || strings.ContainsAny(k, " \t[") {
		return false
	}
	k = strings.TrimSpace(k)
	p.data[k] = strings.TrimSpace(v)

	if k == "progress" {
		p.flush()
		p.data = make(map[string]string)
	}
	return true
}

func (p *progressParser) flush() {
	id, st := p.key.DeviceID, string(p.key.StreamType)
	if fps, err := strconv.ParseFloat(p.data["fps"], 64); err == nil {
		metrics.SetTranscoderFPS(id, st, fps)
	}
	if dropped, err := strconv.ParseFloat(p.data["drop_frames"], 64); err == nil {
		metrics.SetTranscoderDroppedFrames(id, st, dropped)
	}
	if dup, err := strconv.ParseFloat(p.data["dup_frames"], 64); err == nil {
		metrics.SetTranscoderDuplicateFrames(id, st, dup)
	}
	speed := strings.TrimSpace(strings.TrimSuffix(p.data["speed"], "x"))
	if v, err := strconv.ParseFloat(speed, 64); err == nil {
		metrics.SetTranscoderSpeed(id, st, v)
	}
}
