package log

import (
	"encoding/hex"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/zeebo/blake3"
)

var (
	once   sync.Once
	mu     sync.RWMutex
	logger *slog.Logger
)

// Options controls how a logger is built.
type Options struct {
	Level  string    // DEBUG, INFO, WARN, ERROR
	Format string    // json or text
	Writer io.Writer // defaults to os.Stderr
}

// Redacted replaces the value of any attribute whose key names a credential.
const Redacted = "[REDACTED]"

var secretKeyParts = []string{"token", "secret", "password", "api_key", "apikey", "authorization"}

// Setup initializes the global logger once.
// logic: default to INFO. If level is invalid, fallback to INFO.
func Setup(level string) {
	once.Do(func() {
		Configure(Options{Level: level})
	})
}

// Configure replaces the global logger unconditionally. Used by the service when
// the config file is reloaded.
func Configure(opts Options) {
	l := New(opts)
	mu.Lock()
	logger = l
	mu.Unlock()
	slog.SetDefault(l)
}

// New builds a logger without touching the global one.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	hopts := &slog.HandlerOptions{
		Level:       ParseLevel(opts.Level),
		ReplaceAttr: redactSecrets,
	}
	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(w, hopts)
	} else {
		handler = slog.NewJSONHandler(w, hopts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name to a slog level, falling back to INFO.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redactSecrets(_ []string, a slog.Attr) slog.Attr {
	if IsSecretKey(a.Key) && a.Value.Kind() == slog.KindString && a.Value.String() != "" {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// IsSecretKey reports whether an attribute or env var name refers to a credential.
func IsSecretKey(key string) bool {
	k := strings.ToLower(key)
	if strings.HasSuffix(k, "_fp") {
		return false
	}
	for _, part := range secretKeyParts {
		if strings.Contains(k, part) {
			return true
		}
	}
	return false
}

// Fingerprint returns a short BLAKE3 digest of a secret so two log lines can be
// correlated without printing the secret itself. Empty input yields "".
func Fingerprint(secret string) string {
	if secret == "" {
		return ""
	}
	sum := blake3.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:6])
}

// Get returns the configured logger, or a default one if Setup hasn't been called.
func Get() *slog.Logger {
	mu.RLock()
	l := logger
	mu.RUnlock()
	if l == nil {
		Setup("INFO")
		mu.RLock()
		l = logger
		mu.RUnlock()
	}
	return l
}

// WithComponent returns a logger with the component field set.
func WithComponent(name string) *slog.Logger {
	return Get().With(slog.String("component", name))
}

// WithRun returns a logger with the run_id field set.
func WithRun(id string) *slog.Logger {
	return Get().With(slog.String("run_id", id))
}

// WithJob returns a logger with the Cloud Run job name set.
func WithJob(name string) *slog.Logger {
	return Get().With(slog.String("job", name))
}

// Info logs at INFO level.
func Info(msg string, args ...any) {
	Get().Info(msg, args...)
}

// Debug logs at DEBUG level.
func Debug(msg string, args ...any) {
	Get().Debug(msg, args...)
}

// Warn logs at WARN level.
func Warn(msg string, args ...any) {
	Get().Warn(msg, args...)
}

// Error logs at ERROR level.
func Error(msg string, args ...any) {
	Get().Error(msg, args...)
}
