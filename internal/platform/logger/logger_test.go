package logger

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func observed(opts Options) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return &Logger{sugar: zap.New(core).Sugar(), red: newRedactor(opts)}, logs
}

func TestRedactorMasksSecrets(t *testing.T) {
	r := newRedactor(Options{Redact: true})
	out := r.kvs([]interface{}{
		"authorization", "Bearer abc",
		"api_key", "sk-123",
		"chat_id", "c-1",
	})
	require.Len(t, out, 6)
	assert.Equal(t, redacted, out[1])
	assert.Equal(t, redacted, out[3])
	assert.Equal(t, "c-1", out[5])
}

func TestRedactorHashesIdentities(t *testing.T) {
	r := newRedactor(Options{Redact: true, HashSalt: "pepper"})
	out := r.kvs([]interface{}{"owner_id", "7d1c6f1e", "requester_id", "7d1c6f1e"})
	require.Len(t, out, 4)
	first, ok := out[1].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(first, "hash:"))
	assert.Equal(t, out[1], out[3], "same identity must hash to the same value")
	assert.NotContains(t, first, "7d1c6f1e")

	unsalted := newRedactor(Options{Redact: true}).kvs([]interface{}{"owner_id", "7d1c6f1e"})
	assert.NotEqual(t, first, unsalted[1])
}

func TestRedactorNested(t *testing.T) {
	r := newRedactor(Options{Redact: true})
	out := r.kvs([]interface{}{"payload", map[string]interface{}{
		"password": "hunter2",
		"title":    "hi",
		"list":     []interface{}{"eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig"},
	}})
	m, ok := out[1].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, redacted, m["password"])
	assert.Equal(t, "hi", m["title"])
	assert.Equal(t, []interface{}{redacted}, m["list"])
}

func TestRedactorOddLengthAndDisabled(t *testing.T) {
	r := newRedactor(Options{Redact: true})
	assert.Equal(t, []interface{}{"chat_id", "c-1", "dangling"}, r.kvs([]interface{}{"chat_id", "c-1", "dangling"}))

	off := newRedactor(Options{Redact: false})
	assert.Equal(t, []interface{}{"token", "abc"}, off.kvs([]interface{}{"token", "abc"}))
}

func TestLoggerWithCarriesRedactedFields(t *testing.T) {
	log, logs := observed(Options{Redact: true})
	log.With("service", "ChatService", "user_id", "u-1").Info("chat created", "secret", "x")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "ChatService", fields["service"])
	assert.Equal(t, redacted, fields["secret"])
	assert.True(t, strings.HasPrefix(fields["user_id"].(string), "hash:"))
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_REDACTION_ENABLED", "off")
	t.Setenv("LOG_HASH_SALT", " s ")
	t.Setenv("LOG_LEVEL", "warn")
	opts := OptionsFromEnv("production")
	assert.False(t, opts.Redact)
	assert.Equal(t, "s", opts.HashSalt)
	assert.Equal(t, "warn", opts.Level)

	_, err := NewWithOptions(Options{Mode: "development", Level: "loud"})
	assert.Error(t, err)
}

func TestLooksLikeJWT(t *testing.T) {
	assert.True(t, looksLikeJWT("eyJhbGciOiJIUzI1NiJ9.eyJzdWIiOiIxMjM0NTY3ODkwIn0.sig"))
	assert.False(t, looksLikeJWT("hello.world"))
	assert.False(t, looksLikeJWT(""))
}
