package transcoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		line      string
		wantLevel string
		wantMsg   string
	}{
		{"[warning] Non-monotonous DTS", "warning", "Non-monotonous DTS"},
		{"[error] Connection refused", "error", "Connection refused"},
		{"[srtp @ 0x55d1] [error] HMAC mismatch", "error", "[srtp @ 0x55d1] HMAC mismatch"},
		{"[h264 @ 0x55d1] no level here", "info", "[h264 @ 0x55d1] no level here"},
		{"plain line", "info", "plain line"},
		{"[]", "info", "[]"},
		{"[debug]no space", "info", "[debug]no space"},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			level, msg := ParseLogLevel(tt.line)
			assert.Equal(t, tt.wantLevel, level)
			assert.Equal(t, tt.wantMsg, msg)
		})
	}
}
