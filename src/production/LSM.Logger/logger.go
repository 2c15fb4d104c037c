package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
)

// Logger wraps zerolog.Logger with additional functionality
type Logger struct {
	*zerolog.Logger
}

// NewLogger creates a new logger based on configuration and installs it as the global logger
func NewLogger(cfg *config.LoggingConfig) *Logger {
	var out io.Writer = os.Stdout
	if cfg.Output == "stderr" {
		out = os.Stderr
	}

	l := NewWithWriter(cfg, out)
	log.Logger = *l.Logger
	return l
}

// NewWithWriter creates a logger writing to out without touching the global logger
func NewWithWriter(cfg *config.LoggingConfig, out io.Writer) *Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var zl zerolog.Logger
	if cfg.Format == "json" {
		zl = zerolog.New(out).Level(level).With().Timestamp().Logger()
		if cfg.EnableCaller {
			zl = zl.With().Caller().Logger()
		}
	} else {
		zl = zerolog.New(zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}).Level(level).With().Timestamp().Logger()
	}

	return &Logger{&zl}
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	zl := zerolog.Nop()
	return &Logger{&zl}
}

func (l *Logger) with(fn func(zerolog.Context) zerolog.Context) *Logger {
	child := fn(l.Logger.With()).Logger()
	return &Logger{&child}
}

// WithError attaches err to every entry
func (l *Logger) WithError(err error) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Err(err) })
}

// WithRequestID tags entries with the HTTP request they belong to
func (l *Logger) WithRequestID(requestID string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("request_id", requestID) })
}

// WithService tags entries with the binary that wrote them
func (l *Logger) WithService(service string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("service", service) })
}

// WithComponent tags entries with the pipeline stage that wrote them
func (l *Logger) WithComponent(component string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("component", component) })
}

// WithSubscriber tags entries with a live subscriber
func (l *Logger) WithSubscriber(id string) *Logger {
	return l.with(func(c zerolog.Context) zerolog.Context { return c.Str("subscriber", id) })
}

// FatalWithError logs err and exits
func (l *Logger) FatalWithError(err error, msg string) {
	l.Logger.Fatal().Err(err).Msg(msg)
}

// ErrorWithError logs msg with err attached
func (l *Logger) ErrorWithError(err error, msg string) {
	l.Logger.Error().Err(err).Msg(msg)
}

func (l *Logger) Error(msg string) { l.Logger.Error().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.Logger.Warn().Msg(msg) }
func (l *Logger) Info(msg string)  { l.Logger.Info().Msg(msg) }
func (l *Logger) Debug(msg string) { l.Logger.Debug().Msg(msg) }
