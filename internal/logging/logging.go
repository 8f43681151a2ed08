// Package logging wires hclog into the services. The "fatal" level maps to
// Error since hclog has no fatal; callers exit after logging.
package logging

import (
	"os"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// New creates the root logger for a service. Production logs JSON; other
// environments log human-readable lines with color.
func New(service, level string, production bool) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{
		Name:       service,
		Level:      parseLevel(level),
		Output:     os.Stdout,
		JSONFormat: production,
		Color:      colorMode(production),
	})
}

func parseLevel(level string) hclog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return hclog.Trace
	case "debug":
		return hclog.Debug
	case "info":
		return hclog.Info
	case "warn":
		return hclog.Warn
	case "error", "fatal":
		return hclog.Error
	default:
		return hclog.Info
	}
}

func colorMode(production bool) hclog.ColorOption {
	if production {
		return hclog.ColorOff
	}
	return hclog.AutoColor
}
