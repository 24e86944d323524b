package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger tagged with service and instance.
func New(level, service, instanceID string) zerolog.Logger {
	return NewWithWriter(os.Stdout, level, service, instanceID)
}

func NewWithWriter(w io.Writer, level, service, instanceID string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Str("service", service).
		Str("instance", instanceID).
		Logger()
}

// Component derives a child logger for one subsystem.
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}
