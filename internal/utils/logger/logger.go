package logger

import (
	"io"
	"os"
	"strings"

	"golang.org/x/exp/slog"
)

const (
	envDev  = "dev"
	envProd = "prod"
)

type options struct {
	out   io.Writer
	level *slog.Level
}

type Option func(*options)

// WithOutput направляет вывод в w (CLI пишет логи в stderr)
func WithOutput(w io.Writer) Option {
	return func(o *options) {
		o.out = w
	}
}

// WithLevel переопределяет уровень окружения; пустая или неизвестная строка игнорируется
func WithLevel(level string) Option {
	return func(o *options) {
		if l, ok := ParseLevel(level); ok {
			o.level = &l
		}
	}
}

// New создает логгер под окружение: local - цветной вывод,
// dev - текст, prod - JSON уровня INFO
func New(env string, opts ...Option) *slog.Logger {
	o := options{out: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	level := func(def slog.Level) slog.Level {
		if o.level != nil {
			return *o.level
		}
		return def
	}

	switch env {
	case envDev:
		return slog.New(slog.NewTextHandler(o.out, &slog.HandlerOptions{Level: level(slog.LevelDebug)}))
	case envProd:
		return slog.New(slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: level(slog.LevelInfo)}))
	default:
		return newPretty(o.out, level(slog.LevelDebug))
	}
}

func setupPrettySlog() *slog.Logger {
	return newPretty(os.Stdout, slog.LevelDebug)
}

func newPretty(out io.Writer, level slog.Level) *slog.Logger {
	opts := PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{Level: level},
	}
	return slog.New(opts.NewPrettyHandler(out))
}

// ParseLevel разбирает debug/info/warn/error
func ParseLevel(s string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	}
	return slog.LevelInfo, false
}
