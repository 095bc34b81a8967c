// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package gnmi

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func captureStdLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestDefaultLogger_LogLevels(t *testing.T) {
	emit := map[string]func(*DefaultLogger){
		"debug": func(l *DefaultLogger) { l.Debug(context.Background(), "stream opened") },
		"info":  func(l *DefaultLogger) { l.Info(context.Background(), "stream opened") },
		"warn":  func(l *DefaultLogger) { l.Warn(context.Background(), "stream opened") },
		"error": func(l *DefaultLogger) { l.Error(context.Background(), "stream opened") },
	}

	tests := []struct {
		level LogLevel
		call  string
		want  bool
	}{
		{LogLevelDebug, "debug", true},
		{LogLevelInfo, "debug", false},
		{LogLevelInfo, "info", true},
		{LogLevelWarn, "info", false},
		{LogLevelWarn, "warn", true},
		{LogLevelError, "warn", false},
		{LogLevelError, "error", true},
		{LogLevelNone, "error", false},
	}

	for _, tt := range tests {
		t.Run(tt.level.String()+"/"+tt.call, func(t *testing.T) {
			buf := captureStdLog(t)
			emit[tt.call](NewDefaultLogger(tt.level))

			if got := buf.Len() > 0; got != tt.want {
				t.Errorf("logged = %v, want %v (output %q)", got, tt.want, buf.String())
			}
		})
	}
}

func TestDefaultLogger_KeyValuePairs(t *testing.T) {
	buf := captureStdLog(t)
	logger := NewDefaultLogger(LogLevelDebug)

	logger.Warn(context.Background(), "device unavailable", "device", "10.0.0.1", "generation", 3, "dangling")

	out := buf.String()
	for _, want := range []string{"[WARN] device unavailable", "device=10.0.0.1", "generation=3", "dangling=<MISSING>"} {
		if !strings.Contains(out, want) {
			t.Errorf("output %q does not contain %q", out, want)
		}
	}
}

func TestLogLevel_String(t *testing.T) {
	tests := map[LogLevel]string{
		LogLevelDebug: "DEBUG",
		LogLevelInfo:  "INFO",
		LogLevelWarn:  "WARN",
		LogLevelError: "ERROR",
		LogLevelNone:  "NONE",
		LogLevel(42):  "UNKNOWN(42)",
	}
	for level, want := range tests {
		if got := level.String(); got != want {
			t.Errorf("LogLevel(%d).String() = %q, want %q", int(level), got, want)
		}
	}
}

func TestSanitizeLogValue(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"newline injection", "Ethernet0\n[ERROR] fake", "Ethernet0 [ERROR] fake"},
		{"carriage return and tab", "a\rb\tc", "a b c"},
		{"ansi escape", "\x1b[31mred", ".[31mred"},
		{"bell and backspace", "a\x07b\x08", "a.b."},
		{"other control", "a\x01b\x7f", "a.b."},
		{"zero width removed", "Ether\u200bnet0", "Ethernet0"},
		{"bom removed", "\ufeffleaf1", "leaf1"},
		{"rtl override", "abc\u202edef", "abc def"},
		{"regular unicode kept", "Schnittstelle ä", "Schnittstelle ä"},
		{"invalid utf8", "a\xffb", "a.b"},
		{"non string", 9100, "9100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeLogValue(tt.in); got != tt.want {
				t.Errorf("sanitizeLogValue(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeLogValue_Truncation(t *testing.T) {
	got := sanitizeLogValue(strings.Repeat("x", MaxLogValueLength+10))
	if !strings.HasSuffix(got, "...[TRUNCATED]") {
		t.Errorf("long value not truncated: suffix %q", got[len(got)-20:])
	}
	if len(got) != MaxLogValueLength+len("...[TRUNCATED]") {
		t.Errorf("len = %d", len(got))
	}

	exact := strings.Repeat("y", MaxLogValueLength)
	if sanitizeLogValue(exact) != exact {
		t.Error("value at the limit was modified")
	}
}

func TestNoOpLogger(t *testing.T) {
	buf := captureStdLog(t)
	var logger Logger = &NoOpLogger{}
	ctx := context.Background()

	logger.Debug(ctx, "x", "k", "v")
	logger.Info(ctx, "x")
	logger.Warn(ctx, "x", "dangling")
	logger.Error(ctx, "x", nil, nil)

	if buf.Len() != 0 {
		t.Errorf("NoOpLogger wrote %q", buf.String())
	}
}

func TestLogrusLogger(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	logger := NewLogrusLogger(base)
	ctx := context.Background()

	logger.Debug(ctx, "stream opened", "device", "10.0.0.1")
	logger.Info(ctx, "subscribed")
	logger.Warn(ctx, "sync timeout", "device", "10.0.0.2", "attempts")
	logger.Error(ctx, "handler failed", "key\nforged", "Ethernet0")

	entries := hook.AllEntries()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}

	wantLevels := []logrus.Level{logrus.DebugLevel, logrus.InfoLevel, logrus.WarnLevel, logrus.ErrorLevel}
	for i, e := range entries {
		if e.Level != wantLevels[i] {
			t.Errorf("entries[%d].Level = %v, want %v", i, e.Level, wantLevels[i])
		}
	}

	if entries[0].Message != "stream opened" || entries[0].Data["device"] != "10.0.0.1" {
		t.Errorf("entries[0] = %q %v", entries[0].Message, entries[0].Data)
	}
	if len(entries[1].Data) != 0 {
		t.Errorf("entries[1].Data = %v, want none", entries[1].Data)
	}
	if entries[2].Data["attempts"] != "<MISSING>" {
		t.Errorf("dangling key = %v", entries[2].Data["attempts"])
	}
	if entries[3].Data["key forged"] != "Ethernet0" {
		t.Errorf("sanitized key missing: %v", entries[3].Data)
	}
}

func TestLogrusLogger_RespectsLevel(t *testing.T) {
	base, hook := logrustest.NewNullLogger()
	base.SetLevel(logrus.WarnLevel)
	logger := NewLogrusLogger(base)

	logger.Debug(context.Background(), "hidden")
	logger.Info(context.Background(), "hidden")
	logger.Warn(context.Background(), "shown")

	if len(hook.AllEntries()) != 1 || hook.LastEntry().Message != "shown" {
		t.Errorf("entries = %v", hook.AllEntries())
	}
}

func TestNewLogrusLogger_NilUsesStandard(t *testing.T) {
	if l := NewLogrusLogger(nil); l.entry != logrus.StandardLogger() {
		t.Error("nil logger did not fall back to logrus.StandardLogger()")
	}
}

func TestPrepareJSONForLogging(t *testing.T) {
	plain := newTestClient(&fakeDevice{})
	pretty := newTestClient(&fakeDevice{}, WithPrettyPrintLogs(true))

	tests := []struct {
		name   string
		client *Client
		in     string
		check  func(t *testing.T, got string)
	}{
		{
			name:   "redacted compact",
			client: plain,
			in:     `{"openconfig-interfaces:config":{"mtu":9100,"password":"hunter2"}}`,
			check: func(t *testing.T, got string) {
				if strings.Contains(got, "hunter2") || !strings.Contains(got, `"password":"[REDACTED]"`) {
					t.Errorf("not redacted: %s", got)
				}
				if strings.Contains(got, "\n") {
					t.Errorf("compact output is multiline: %s", got)
				}
			},
		},
		{
			name:   "redacted pretty",
			client: pretty,
			in:     `{"community":"public","enabled":true}`,
			check: func(t *testing.T, got string) {
				if strings.Contains(got, "public") {
					t.Errorf("not redacted: %s", got)
				}
				if !strings.Contains(got, "\n  \"enabled\": true") {
					t.Errorf("not indented: %s", got)
				}
			},
		},
		{
			name:   "invalid json falls back to raw",
			client: pretty,
			in:     `{not json`,
			check: func(t *testing.T, got string) {
				if got != `{not json` {
					t.Errorf("got %q", got)
				}
			},
		},
		{
			name:   "too large",
			client: plain,
			in:     `"` + strings.Repeat("a", MaxJSONSizeForLogging) + `"`,
			check: func(t *testing.T, got string) {
				if got != JSONTooLargeMessage {
					t.Errorf("got %q", got[:min(len(got), 40)])
				}
			},
		},
		{
			name:   "too many sensitive fields",
			client: plain,
			in:     strings.Repeat(`{"token":"t"}`, MaxSensitiveFields+1),
			check: func(t *testing.T, got string) {
				if got != JSONTooManySensitiveMsg {
					t.Errorf("got %q", got[:min(len(got), 40)])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.client.prepareJSONForLogging(tt.in))
		})
	}
}
