package observability

import (
	"context"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates a new zerolog logger based on configuration.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	var output io.Writer

	switch strings.ToLower(cfg.Output) {
	case "stderr":
		output = os.Stderr
	default:
		output = os.Stdout
	}

	return newLoggerTo(output, cfg)
}

func newLoggerTo(output io.Writer, cfg LoggingConfig) zerolog.Logger {
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// Use console writer for pretty output in development
	format := strings.ToLower(cfg.Format)
	if format == "console" || format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	logger := zerolog.New(output).With().Timestamp()
	if cfg.AddSource {
		logger = logger.Caller()
	}
	log := logger.Logger()

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return log.Level(level)
}

// parseLevel converts a string log level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	default:
		return zerolog.InfoLevel
	}
}

// WithComponent tags a logger with the emitting component.
func WithComponent(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}

// WithSubmissionContext adds submission fields to a logger.
func WithSubmissionContext(logger zerolog.Logger, submissionID int64, entityType string) zerolog.Logger {
	return logger.With().
		Str("submission_id", strconv.FormatInt(submissionID, 10)).
		Str("entity_type", entityType).
		Logger()
}

// WithCandidateContext adds the candidate record of a duplicate pair to a logger.
func WithCandidateContext(logger zerolog.Logger, candidateID string) zerolog.Logger {
	return logger.With().
		Str("candidate_id", candidateID).
		Logger()
}

// WithTraceContext adds distributed tracing fields to a logger.
func WithTraceContext(logger zerolog.Logger, traceID, spanID string) zerolog.Logger {
	return logger.With().
		Str("trace_id", traceID).
		Str("span_id", spanID).
		Logger()
}

// ContextLogger adds the request, user and trace IDs carried by ctx to a logger.
func ContextLogger(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rc := RequestContextFromContext(ctx)
	lc := logger.With()
	if rc.RequestID != "" {
		lc = lc.Str("request_id", rc.RequestID)
	}
	if rc.UserID != "" {
		lc = lc.Str("user_id", rc.UserID)
	}
	logger = lc.Logger()
	if rc.TraceID != "" {
		logger = WithTraceContext(logger, rc.TraceID, rc.SpanID)
	}
	return logger
}
