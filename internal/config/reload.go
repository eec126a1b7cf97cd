package config

import (
	"github.com/smazurov/doorbell/internal/logging"
)

// NewLoggingWatcher watches the config file and applies [logging] level
// changes to the running process.
func NewLoggingWatcher(path string, logger logging.Logger, opts ...WatcherOption[logging.Config]) *Watcher[logging.Config] {
	w := NewConfigWatcher(path, LoadLoggingConfig, logger, opts...)
	w.OnReload(func(cfg logging.Config) {
		logger.Info("Applying logging levels from config", "level", cfg.Level, "modules", len(cfg.Modules))
		logging.SetLevels(cfg)
	})
	return w
}
