package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	require := require.New(t)

	cases := map[string]LogLevel{
		"debug": DebugLevel,
		"INFO":  InfoLevel,
		"":      InfoLevel,
		"warn":  WarnLevel,
		"error": ErrorLevel,
		"fatal": FatalLevel,
	}
	for s, want := range cases {
		lv, err := ParseLevel(s)
		require.NoError(err, s)
		require.Equal(want, lv, s)
	}

	_, err := ParseLevel("verbose")
	require.Error(err)
	require.Equal("warn", WarnLevel.String())
}

func TestSlogLogger(t *testing.T) {
	require := require.New(t)
	t.Setenv("ENV", "")

	var buf bytes.Buffer
	l := NewSlogWriter(&buf, InfoLevel, false)
	require.Equal(InfoLevel, l.Level())

	l.Debug("hidden")
	require.Zero(buf.Len())

	l.With("module", "0x010203").Info("state changed", "state", "idle")
	var rec map[string]any
	require.NoError(json.Unmarshal(buf.Bytes(), &rec))
	require.Equal("state changed", rec["msg"])
	require.Equal("0x010203", rec["module"])
	require.Equal("idle", rec["state"])
	require.Contains(rec, "ts")

	l.SetLevel(DebugLevel)
	require.Equal(DebugLevel, l.Level())
}

func TestSlogConsole(t *testing.T) {
	require := require.New(t)

	var buf bytes.Buffer
	l := NewSlogWithOptions(&buf, DebugLevel, SlogOptions{Console: true})
	l.Debug("frame dropped", "inbox", 4096)

	out := buf.String()
	require.Contains(out, "frame dropped")
	require.Contains(out, "inbox")
	require.False(json.Valid(buf.Bytes()))
}

func TestMockLogger(t *testing.T) {
	require := require.New(t)

	l := NewPermissiveMockLogger()
	child := l.With("device", "oven")
	child.Warn("cover blocked", "position", 1200)
	require.Equal(DebugLevel, l.Level())

	l.AssertCalled(t, "Warn", "cover blocked", []any{"position", 1200})
}

func TestZapLogger(t *testing.T) {
	require := require.New(t)

	core, logs := observer.New(zapcore.DebugLevel)
	l := NewZapFromCore(core, WarnLevel)
	require.Equal(WarnLevel, l.Level())

	l.Info("dropped")
	l.With("module", "m1").Warn("command timed out", "kind", "set_output")
	require.Equal(1, logs.Len())

	entry := logs.All()[0]
	require.Equal("command timed out", entry.Message)
	fields := entry.ContextMap()
	require.Equal("m1", fields["module"])
	require.Equal("set_output", fields["kind"])

	l.SetLevel(DebugLevel)
	l.Debug("visible")
	require.Equal(2, logs.Len())
}

func TestNewBackend(t *testing.T) {
	require := require.New(t)

	l, err := New(BackendSlog, InfoLevel, false)
	require.NoError(err)
	require.IsType(&SlogLogger{}, l)

	_, err = New("syslog", InfoLevel, false)
	require.Error(err)
}
