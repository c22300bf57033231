package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// ServiceName is attached to every log line.
const ServiceName = "affiliate-tracker"

var Logger zerolog.Logger

func Init() {
	InitWithWriter(os.Stdout)
}

// InitWithWriter configures the process logger from LOG_* env vars and
// installs it as the zerolog global.
func InitWithWriter(w io.Writer) {
	level, err := zerolog.ParseLevel(envOr("LOG_LEVEL", "info"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var base zerolog.Logger
	switch envOr("LOG_FORMAT", "console") {
	case "json":
		base = zerolog.New(w)
	default:
		cw := zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: envOr("LOG_TIME_FORMAT", time.RFC3339),
		}
		if strings.TrimSpace(os.Getenv("LOG_COLOR")) == "0" {
			cw.NoColor = true
		}
		base = zerolog.New(cw)
	}

	ctx := base.With().Timestamp().Str("service", ServiceName)
	if strings.TrimSpace(os.Getenv("LOG_CALLER")) == "1" {
		ctx = ctx.Caller()
	}

	Logger = ctx.Logger().Level(level)
	zlog.Logger = Logger
}

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
	return zlog.Logger.With().Str("component", name).Logger()
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
