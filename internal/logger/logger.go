package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Detail levels. An entry is emitted only when its level is <= the
// configured logdetail.
const (
	DetailError = 0
	DetailWarn  = 1
	DetailInfo  = 2
)

// Entry is what the UI channel receives as {"log": Entry}.
type Entry struct {
	LogEntry  interface{} `json:"logEntry"`
	Timestamp string      `json:"timestamp"`
}

type Options struct {
	Path     string
	Detail   int
	ToStdout bool
	Clear    bool
	Headless bool
}

type Logger struct {
	zap      *zap.Logger
	detail   int
	headless bool

	mu     sync.RWMutex
	nextID int
	sinks  map[int]func(Entry)
}

func New(opts Options) (*Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	config.Sampling = nil
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	var outputs []string
	if path := strings.TrimSpace(opts.Path); path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		if opts.Clear {
			if err := os.WriteFile(path, nil, 0o644); err != nil {
				return nil, fmt.Errorf("failed to clear log file: %w", err)
			}
		}
		outputs = append(outputs, path)
	}
	if opts.ToStdout || len(outputs) == 0 {
		outputs = append(outputs, "stdout")
	}
	config.OutputPaths = outputs
	config.ErrorOutputPaths = []string{"stderr"}

	z, err := config.Build(zap.Fields(zap.String("name", "plotly-database-connector-logger")))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return Wrap(z, opts.Detail, opts.Headless), nil
}

// Wrap adapts an existing zap logger.
func Wrap(z *zap.Logger, detail int, headless bool) *Logger {
	if z == nil {
		z = zap.NewNop()
	}
	return &Logger{
		zap:      z,
		detail:   detail,
		headless: headless,
		sinks:    make(map[int]func(Entry)),
	}
}

func Nop() *Logger {
	return Wrap(zap.NewNop(), DetailInfo, true)
}

func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

func (l *Logger) Detail() int {
	return l.detail
}

// Log writes entry at the given detail level and forwards it to the UI
// channel subscribers unless running headless.
func (l *Logger) Log(entry interface{}, detail int) {
	if l == nil || detail > l.detail {
		return
	}

	msg, fields := describe(entry)
	switch detail {
	case DetailError:
		l.zap.Error(msg, fields...)
	case DetailWarn:
		l.zap.Warn(msg, fields...)
	default:
		l.zap.Info(msg, fields...)
	}

	if l.headless {
		return
	}
	l.mu.RLock()
	sinks := make([]func(Entry), 0, len(l.sinks))
	for _, sink := range l.sinks {
		sinks = append(sinks, sink)
	}
	l.mu.RUnlock()

	forwarded := Entry{LogEntry: entry, Timestamp: Timestamp(time.Now())}
	for _, sink := range sinks {
		sink(forwarded)
	}
}

func (l *Logger) Logf(detail int, format string, args ...interface{}) {
	if l == nil || detail > l.detail {
		return
	}
	l.Log(fmt.Sprintf(format, args...), detail)
}

// Subscribe registers fn for every forwarded entry.
func (l *Logger) Subscribe(fn func(Entry)) func() {
	if fn == nil {
		return func() {}
	}
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.sinks[id] = fn
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		delete(l.sinks, id)
		l.mu.Unlock()
	}
}

func (l *Logger) Sync() error {
	if l == nil {
		return nil
	}
	return l.zap.Sync()
}

// Timestamp renders t the way the UI log pane displays it,
// e.g. "14:39:07 GMT+0100 (CET)".
func Timestamp(t time.Time) string {
	return t.Format("15:04:05 GMT-0700 (MST)")
}

func describe(entry interface{}) (string, []zap.Field) {
	switch v := entry.(type) {
	case string:
		return v, nil
	case error:
		return v.Error(), nil
	case fmt.Stringer:
		return v.String(), nil
	case map[string]interface{}:
		if m, ok := v["message"].(string); ok {
			return m, []zap.Field{zap.Any("entry", v)}
		}
	}
	return "log", []zap.Field{zap.Any("entry", entry)}
}
