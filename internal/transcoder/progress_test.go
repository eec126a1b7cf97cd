package transcoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smazurov/doorbell/internal/metrics"
)

func TestProgressParser(t *testing.T) {
	key := SessionKey{DeviceID: "progress-dev", StreamType: StreamTypeLive}
	defer metrics.DeleteTranscoderProgress(key.DeviceID, string(key.StreamType))

	p := newProgressParser(key)
	for _, line := range []string{"frame=120", "fps=14.98", "drop_frames=2", "dup_frames=1", "speed=1.01x"} {
		assert.True(t, p.handle(line))
	}
	assert.Nil(t, metrics.GetTranscoderProgress(key.DeviceID, string(key.StreamType)), "nothing is reported before progress=")

	assert.True(t, p.handle("progress=continue"))

	m := metrics.GetTranscoderProgress(key.DeviceID, string(key.StreamType))
	require.NotNil(t, m)
	assert.InDelta(t, 14.98, m.FPS, 0.001)
	assert.InDelta(t, 2, m.DroppedFrames, 0)
	assert.InDelta(t, 1, m.DuplicateFrames, 0)
	assert.InDelta(t, 1.01, m.Speed, 0.001)
}

func TestProgressParser_IgnoresLogLines(t *testing.T) {
	p := newProgressParser(SessionKey{DeviceID: "x", StreamType: StreamTypeLive})
	assert.False(t, p.handle("[info] Stream mapping:"))
	assert.False(t, p.handle("Input #0, sdp, from 'pipe:':"))
	assert.False(t, p.handle("[h264 @ 0x1] a=b"))
	assert.False(t, p.handle(""))
}
