package app

import (
	"strings"

	"github.com/charlesng35/hycredit/pkg/logger"
)

// ConfigureLogging initialises the global logger from the server settings,
// defaulting to info.
func ConfigureLogging(server ServerConfig) error {
	level := strings.TrimSpace(server.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.Init(level, server.Debug())
}
