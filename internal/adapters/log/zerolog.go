package log

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bft-labs/chunkship/internal/ports"
)

// Format selects how log lines are rendered.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Zerolog implements ports.Logger on top of a zerolog.Logger.
type Zerolog struct {
	logger zerolog.Logger
}

// NewZerolog builds a logger writing to w at the given level
// ("debug", "info", "warn", "error").
func NewZerolog(w io.Writer, level string, format Format) (*Zerolog, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", level)
	}

	switch format {
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	case FormatJSON, "":
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	return &Zerolog{logger: logger}, nil
}

// Wrap adapts an existing zerolog.Logger.
func Wrap(logger zerolog.Logger) *Zerolog {
	return &Zerolog{logger: logger}
}

func (z *Zerolog) Debug(msg string, fields ...ports.Field) { emit(z.logger.Debug(), msg, fields) }
func (z *Zerolog) Info(msg string, fields ...ports.Field)  { emit(z.logger.Info(), msg, fields) }
func (z *Zerolog) Warn(msg string, fields ...ports.Field)  { emit(z.logger.Warn(), msg, fields) }
func (z *Zerolog) Error(msg string, fields ...ports.Field) { emit(z.logger.Error(), msg, fields) }

// Logger returns the underlying zerolog.Logger.
func (z *Zerolog) Logger() zerolog.Logger {
	return z.logger
}

func emit(event *zerolog.Event, msg string, fields []ports.Field) {
	// Disabled levels return a nil event.
	if event == nil {
		return
	}
	for _, f := range fields {
		switch v := f.Value.(type) {
		case string:
			event = event.Str(f.Key, v)
		case int:
			event = event.Int(f.Key, v)
		case int64:
			event = event.Int64(f.Key, v)
		case uint64:
			event = event.Uint64(f.Key, v)
		case bool:
			event = event.Bool(f.Key, v)
		case time.Duration:
			event = event.Dur(f.Key, v)
		case error:
			event = event.AnErr(f.Key, v)
		default:
			event = event.Interface(f.Key, v)
		}
	}
	event.Msg(msg)
}
