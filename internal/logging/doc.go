// Package logging provides structured logging with per-module log level configuration.
//
// Loggers are plain [log/slog] loggers tagged with a "module" attribute.
// Output goes to stdout (text or json) and, when journald is reachable, to
// the systemd journal under the "doorbell" identifier.
//
// Initialize once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"call":   "debug",
//			"ffmpeg": "warn",
//		},
//	})
//
// Then per package:
//
//	logger := logging.GetLogger("call").With("device_id", id)
//	logger.Info("Call started")
//
// Levels can be changed at runtime with [SetLevels]; the config watcher
// does this when the [logging] table of the config file changes.
//
// Filter journal output by structured fields:
//
//	journalctl -t doorbell MODULE=ffmpeg
//	journalctl -t doorbell DEVICE_ID=abc123
package logging
