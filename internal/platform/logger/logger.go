package logger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const redacted = "[REDACTED]"

// Options controls encoder, level and redaction. OptionsFromEnv fills the
// redaction fields from LOG_REDACTION_ENABLED, LOG_HASH_SALT and LOG_LEVEL.
type Options struct {
	Mode     string
	Level    string
	Redact   bool
	HashSalt string
}

func OptionsFromEnv(mode string) Options {
	opts := Options{
		Mode:     mode,
		Level:    strings.TrimSpace(os.Getenv("LOG_LEVEL")),
		Redact:   true,
		HashSalt: strings.TrimSpace(os.Getenv("LOG_HASH_SALT")),
	}
	switch strings.TrimSpace(strings.ToLower(os.Getenv("LOG_REDACTION_ENABLED"))) {
	case "0", "false", "no", "off":
		opts.Redact = false
	}
	return opts
}

// Logger is a key/value logger over zap. Keys that look like credentials are
// redacted and identity keys (user_id, owner_id, requester_id) are hashed.
type Logger struct {
	sugar *zap.SugaredLogger
	red   *redactor
}

func New(mode string) (*Logger, error) {
	return NewWithOptions(OptionsFromEnv(mode))
}

func NewWithOptions(opts Options) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(opts.Mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
	default:
		cfg = zap.NewDevelopmentConfig()
	}
	level := zapcore.DebugLevel
	if opts.Level != "" {
		if err := level.UnmarshalText([]byte(strings.ToLower(opts.Level))); err != nil {
			return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", opts.Level, err)
		}
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &Logger{sugar: zl.Sugar(), red: newRedactor(opts)}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{sugar: zap.NewNop().Sugar(), red: &redactor{}}
}

func (l *Logger) Sync() { _ = l.sugar.Sync() }

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, l.red.kvs(keysAndValues)...)
}

func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, l.red.kvs(keysAndValues)...)
}

func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, l.red.kvs(keysAndValues)...)
}

func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, l.red.kvs(keysAndValues)...)
}

func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.sugar.Fatalw(msg, l.red.kvs(keysAndValues)...)
}

// With returns a child logger carrying the given pairs on every entry.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{sugar: l.sugar.With(l.red.kvs(keysAndValues)...), red: l.red}
}

var (
	secretKeyParts   = []string{"token", "authorization", "password", "secret", "cookie", "api_key", "apikey", "idempotency"}
	identityKeyParts = []string{"user_id", "owner_id", "requester_id"}
)

type redactor struct {
	enabled bool
	salt    string
}

func newRedactor(opts Options) *redactor {
	return &redactor{enabled: opts.Redact, salt: opts.HashSalt}
}

func (r *redactor) kvs(kv []interface{}) []interface{} {
	if r == nil || !r.enabled || len(kv) == 0 {
		return kv
	}
	out := make([]interface{}, 0, len(kv))
	for i := 0; i < len(kv); i += 2 {
		if i == len(kv)-1 {
			out = append(out, kv[i])
			break
		}
		key := stringify(kv[i])
		out = append(out, key, r.value(strings.ToLower(strings.TrimSpace(key)), kv[i+1]))
	}
	return out
}

func (r *redactor) value(key string, val interface{}) interface{} {
	switch {
	case key != "" && containsAny(key, secretKeyParts):
		return redacted
	case key != "" && containsAny(key, identityKeyParts):
		return r.hash(val)
	}
	switch v := val.(type) {
	case map[string]interface{}:
		if v == nil {
			return v
		}
		out := make(map[string]interface{}, len(v))
		for k, inner := range v {
			out[k] = r.value(strings.ToLower(strings.TrimSpace(k)), inner)
		}
		return out
	case []interface{}:
		if v == nil {
			return v
		}
		out := make([]interface{}, len(v))
		for i, inner := range v {
			out[i] = r.value("", inner)
		}
		return out
	case string:
		if looksLikeJWT(v) {
			return redacted
		}
	}
	return val
}

// hash keeps identities correlatable across lines without logging them.
func (r *redactor) hash(val interface{}) string {
	raw := stringify(val)
	if raw == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(r.salt + raw))
	return "hash:" + hex.EncodeToString(sum[:])[:12]
}

func containsAny(s string, parts []string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func looksLikeJWT(s string) bool {
	parts := strings.Split(s, ".")
	return len(parts) == 3 && len(parts[0]) > 10 && len(parts[1]) > 10
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}
