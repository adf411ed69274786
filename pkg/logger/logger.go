package logx

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/vayu-advisor/server/internal/core"
)

var DefaultLoggerOpts = &LoggerOpts{
	Environment: core.Development,
}

type LoggerOpts struct {
	Environment core.Environment
	// Level overrides the environment default when set (e.g. "warn").
	Level string
}

func safe(opts ...LoggerOpts) *LoggerOpts {
	if len(opts) == 0 {
		return DefaultLoggerOpts
	}
	return &opts[0]
}

func Init(opts ...LoggerOpts) {
	o := safe(opts...)
	level := zerolog.DebugLevel
	if o.Environment.IsProduction() {
		log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
		level = zerolog.InfoLevel
	} else {
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Caller().Logger()
	}
	if o.Level != "" {
		if parsed, err := zerolog.ParseLevel(o.Level); err == nil {
			level = parsed
		}
	}
	log.Logger = log.Logger.Level(level)
}

// Session returns a child logger carrying the session id.
func Session(sessionID string) zerolog.Logger {
	return log.Logger.With().Str("session_id", sessionID).Logger()
}

func Debug() *zerolog.Event {
	return log.Debug()
}

func Info() *zerolog.Event {
	return log.Info()
}

func Warn() *zerolog.Event {
	return log.Warn()
}

func Error() *zerolog.Event {
	return log.Error()
}

func Fatal() *zerolog.Event {
	return log.Fatal()
}
