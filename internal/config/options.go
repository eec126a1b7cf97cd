package config

import (
	"time"

	"github.com/smazurov/doorbell/internal/logging"
)

// Options is the flat application configuration. Tags drive the humacli
// flags (help/short/default), the TOML path and the DOORBELL_ env override.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Cloud account
	CloudUsername       string `help:"Cloud account username" toml:"cloud.username" env:"CLOUD_USERNAME"`
	CloudPassword       string `help:"Cloud account password" toml:"cloud.password" env:"CLOUD_PASSWORD"`
	CloudBaseURL        string `help:"Cloud API base URL" default:"https://cloud.myskybell.com/api/v3/" toml:"cloud.base_url" env:"CLOUD_BASE_URL"`
	CloudRequestTimeout string `help:"Cloud API request timeout" default:"15s" toml:"cloud.request_timeout" env:"CLOUD_REQUEST_TIMEOUT"`
	CloudRateLimit      int    `help:"Cloud API requests per second" default:"5" toml:"cloud.rate_limit" env:"CLOUD_RATE_LIMIT"`

	// Device registry
	DevicesCacheFile    string `help:"Last known device list" default:"devices.toml" toml:"devices.cache_file" env:"DEVICES_CACHE_FILE"`
	DevicesPollInterval string `help:"Device list refresh interval" default:"5m" toml:"devices.poll_interval" env:"DEVICES_POLL_INTERVAL"`

	// Call negotiation
	CallRetries          int    `help:"Call negotiation attempts" default:"3" toml:"call.retries" env:"CALL_RETRIES"`
	CallRetryDelay       string `help:"Initial delay between negotiation attempts" default:"1s" toml:"call.retry_delay" env:"CALL_RETRY_DELAY"`
	CallNegotiateTimeout string `help:"Timeout for one negotiation attempt" default:"20s" toml:"call.negotiate_timeout" env:"CALL_NEGOTIATE_TIMEOUT"`
	PunchTimeout         string `help:"Write deadline for punch packets" default:"2s" toml:"call.punch_timeout" env:"PUNCH_TIMEOUT"`

	// Transcoder
	TranscoderProbeTimeout string `help:"Timeout for transcoder version probes" default:"10s" toml:"transcoder.probe_timeout" env:"TRANSCODER_PROBE_TIMEOUT"`
	TranscoderStopTimeout  string `help:"Grace period before a stopped transcoder is killed" default:"5s" toml:"transcoder.stop_timeout" env:"TRANSCODER_STOP_TIMEOUT"`
	TranscoderWidth        int    `help:"Output width (0 = copy source)" default:"0" toml:"transcoder.width" env:"TRANSCODER_WIDTH"`
	TranscoderHeight       int    `help:"Output height (0 = copy source)" default:"0" toml:"transcoder.height" env:"TRANSCODER_HEIGHT"`
	TranscoderFPS          int    `help:"Output frame rate when re-encoding" default:"30" toml:"transcoder.fps" env:"TRANSCODER_FPS"`
	TranscoderBitrate      int    `help:"Output bitrate in kbit/s when re-encoding" default:"900" toml:"transcoder.bitrate" env:"TRANSCODER_BITRATE"`

	// Output sink
	SinkType   string `help:"Output sink (file, udp, rtsp)" default:"file" toml:"sink.type" env:"SINK_TYPE"`
	SinkTarget string `help:"Output path or URL" default:"./output.mp4" toml:"sink.target" env:"SINK_TARGET"`

	// Auth settings
	AuthUsername string `help:"Basic auth username for the HTTP API" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password for the HTTP API" toml:"auth.password" env:"AUTH_PASSWORD"`

	MetricsEnabled bool `help:"Expose Prometheus metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingCall       string `help:"Call controller logging level" default:"info" toml:"logging.call" env:"LOGGING_CALL"`
	LoggingCloud      string `help:"Cloud API logging level" default:"info" toml:"logging.cloud" env:"LOGGING_CLOUD"`
	LoggingDevices    string `help:"Device registry logging level" default:"info" toml:"logging.devices" env:"LOGGING_DEVICES"`
	LoggingTranscoder string `help:"Transcoder supervisor logging level" default:"info" toml:"logging.transcoder" env:"LOGGING_TRANSCODER"`
	LoggingFFmpeg     string `help:"Transcoder output logging level" default:"info" toml:"logging.ffmpeg" env:"LOGGING_FFMPEG"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
}

// LoggingConfig maps the logging options onto a logging.Config.
func (o *Options) LoggingConfig() logging.Config {
	return logging.Config{
		Level:  o.LoggingLevel,
		Format: o.LoggingFormat,
		Modules: map[string]string{
			"call":       o.LoggingCall,
			"punch":      o.LoggingCall,
			"cloud":      o.LoggingCloud,
			"devices":    o.LoggingDevices,
			"transcoder": o.LoggingTranscoder,
			"ffmpeg":     o.LoggingFFmpeg,
			"api":        o.LoggingAPI,
			"http":       o.LoggingAPI,
		},
	}
}

// CallTimings bundles the parsed call-related durations.
type CallTimings struct {
	RetryDelay       time.Duration
	NegotiateTimeout time.Duration
	PunchTimeout     time.Duration
	ProbeTimeout     time.Duration
	StopTimeout      time.Duration
	RequestTimeout   time.Duration
	PollInterval     time.Duration
}

// Timings parses every duration option, falling back to defaults on bad input.
func (o *Options) Timings() CallTimings {
	return CallTimings{
		RetryDelay:       Duration(o.CallRetryDelay, time.Second),
		NegotiateTimeout: Duration(o.CallNegotiateTimeout, 20*time.Second),
		PunchTimeout:     Duration(o.PunchTimeout, 2*time.Second),
		ProbeTimeout:     Duration(o.TranscoderProbeTimeout, 10*time.Second),
		StopTimeout:      Duration(o.TranscoderStopTimeout, 5*time.Second),
		RequestTimeout:   Duration(o.CloudRequestTimeout, 15*time.Second),
		PollInterval:     Duration(o.DevicesPollInterval, 5*time.Minute),
	}
}
