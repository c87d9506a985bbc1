package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestLevelFromEnv(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"garbage", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := levelFromEnv(c.in); got != c.want {
			t.Errorf("levelFromEnv(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestNewZerologLoggerDoesNotPanic(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("LOG_LEVEL", "debug")
	l := NewZerologLogger("test")
	l.Debugf("debug %d", 1)
	l.Debugw("debug fields", map[string]any{"k": "v"})
	l.Infof("info")
	l.Warnf("warn")
	l.Errorf("error")
}
