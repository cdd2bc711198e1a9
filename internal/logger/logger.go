package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Setup configures the process-wide zerolog logger and returns the root
// instance components derive from. format "pretty" (or "console") selects
// a human-readable writer for development; anything else emits JSON lines.
// Unrecognized levels fall back to info.
func Setup(level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	var out io.Writer = os.Stdout
	switch format {
	case "pretty", "console":
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
	}

	return zerolog.New(out).With().Timestamp().Caller().Logger()
}
