package observ

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logMu  sync.RWMutex
	logger = newLogger(os.Stdout).Level(zerolog.InfoLevel)
)

func init() {
	zerolog.TimestampFieldName = "ts"
	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.TimestampFunc = func() time.Time { return time.Now().UTC() }
}

func newLogger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).With().Timestamp().Logger()
}

// SetLogOutput redirects event logs, e.g. to io.Discard in tests.
func SetLogOutput(w io.Writer) {
	logMu.Lock()
	defer logMu.Unlock()
	level := logger.GetLevel()
	logger = newLogger(w).Level(level)
}

// SetLogLevel accepts zerolog level names ("debug", "info", "warn", ...).
func SetLogLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return err
	}
	logMu.Lock()
	defer logMu.Unlock()
	logger = logger.Level(lvl)
	return nil
}

// Log writes one JSON line for event with the given fields.
func Log(event string, kv map[string]any) {
	emit(zerolog.InfoLevel, event, kv)
}

// Warn is Log at warn level.
func Warn(event string, kv map[string]any) {
	emit(zerolog.WarnLevel, event, kv)
}

// Debug is Log at debug level; used for per-request chatter.
func Debug(event string, kv map[string]any) {
	emit(zerolog.DebugLevel, event, kv)
}

func emit(level zerolog.Level, event string, kv map[string]any) {
	logMu.RLock()
	l := logger
	logMu.RUnlock()

	e := l.WithLevel(level)
	if e == nil {
		return
	}
	e.Str("event", event).Fields(kv).Send()
}

// MaskKey hides all but the edges of a credential for logging.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "***" + key[len(key)-4:]
}
