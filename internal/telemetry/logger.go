package telemetry

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger builds the service logger: pretty console output in development,
// JSON elsewhere.
func NewLogger(env string) zerolog.Logger {
	if env == "development" {
		writer := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		return zerolog.New(writer).With().Timestamp().Str("service", "conversation-service").Logger()
	}
	return zerolog.New(os.Stderr).With().Timestamp().Str("service", "conversation-service").Logger()
}
