package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{"INFO", INFO, true},
		{"warning", WARN, true},
		{"Error", ERROR, true},
		{"none", SILENT, true},
		{" silent ", SILENT, true},
		{"loud", INFO, false},
	}
	for _, c := range cases {
		got, err := ParseLevel(c.in)
		if got != c.want || (err == nil) != c.ok {
			t.Fatalf("ParseLevel(%q) = %v,%v want %v ok=%v", c.in, got, err, c.want, c.ok)
		}
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Scanner", "hidden %d", 1)
	l.Warn("Scanner", "visible %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line leaked at WARN: %q", out)
	}
	if !strings.Contains(out, "visible 2") || !strings.Contains(out, "[Scanner]") {
		t.Fatalf("warn line missing module or message: %q", out)
	}
}

func TestSetLevelSilent(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)
	l.SetLevel(SILENT)
	l.Error("Camera", "should not appear")
	if buf.Len() != 0 {
		t.Fatalf("SILENT wrote output: %q", buf.String())
	}
	if l.GetLevel() != SILENT {
		t.Fatalf("GetLevel = %v", l.GetLevel())
	}
}

func TestZerologScopedModule(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)
	zl := l.Zerolog("Decoder")
	zl.Info().Int("codes", 2).Msg("decoded")
	out := buf.String()
	if !strings.Contains(out, "module=Decoder") || !strings.Contains(out, "codes=2") {
		t.Fatalf("structured line = %q", out)
	}
}

func TestLevelString(t *testing.T) {
	if WARN.String() != "WARN" || LogLevel(9).String() != "UNKNOWN" {
		t.Fatalf("unexpected level names")
	}
}
