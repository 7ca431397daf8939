package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("chunk finished", "chunk", 3)

	out := buf.String()
	if !strings.Contains(out, `"msg":"chunk finished"`) {
		t.Fatalf("expected message in output, got: %s", out)
	}
	if !strings.Contains(out, `"chunk":3`) {
		t.Fatalf("expected chunk attribute in output, got: %s", out)
	}
	if !strings.Contains(out, `"level":"INFO"`) {
		t.Fatalf("expected level INFO in output, got: %s", out)
	}
}

func TestLevelFiltering(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Text(&buf, slog.LevelWarn)
	log.Info("hidden")
	log.Debug("hidden too")
	if buf.Len() > 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	log.Warn("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("expected warn message in output, got: %s", buf.String())
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard().With("k", "v").WithGroup("g")
	log.Error("nowhere")
}

func TestNewFormat(t *testing.T) {
	t.Parallel()
	for _, f := range []string{"", "pretty", "TEXT", "json"} {
		var buf bytes.Buffer
		log, err := NewFormat(f, &buf, slog.LevelInfo)
		if err != nil {
			t.Fatalf("NewFormat(%q): %v", f, err)
		}
		log.Info("hello")
		if !strings.Contains(buf.String(), "hello") {
			t.Fatalf("NewFormat(%q) produced %q", f, buf.String())
		}
	}
	if _, err := NewFormat("xml", &bytes.Buffer{}, slog.LevelInfo); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), Text(&buf, slog.LevelInfo))
	FromContext(ctx).Info("roundtrip")
	if !strings.Contains(buf.String(), "roundtrip") {
		t.Fatalf("expected message via context logger, got: %s", buf.String())
	}
	if FromContext(context.Background()) == nil {
		t.Fatal("FromContext without logger returned nil")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"DEBUG", slog.LevelDebug, false},
		{"", slog.LevelInfo, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tc := range tests {
		got, err := ParseLevel(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("ParseLevel(%q) error = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if got != tc.want {
			t.Fatalf("ParseLevel(%q): got %v want %v", tc.in, got, tc.want)
		}
	}
}

func TestPrettyAttributes(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := slog.New(NewPrettyHandler(&buf, nil).WithAttrs([]slog.Attr{slog.String("run", "fit_1")}))
	log.WithGroup("chunk").Info("done",
		"chi2", 0.123456789,
		"took", 1500*time.Microsecond,
		"note", "two words",
	)

	out := buf.String()
	for _, want := range []string{"run=fit_1", "chunk.chi2=0.123457", "chunk.took=1.5ms", `chunk.note="two words"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got: %s", want, out)
		}
	}
}

func TestPrettyLevelAndGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn})
	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatal("info should be disabled at warn level")
	}
	if h.WithGroup("") != h {
		t.Fatal("WithGroup with empty name should return the same handler")
	}
	slog.New(h.WithGroup("a").WithGroup("b")).Warn("nested", "key", "val")
	if !strings.Contains(buf.String(), "a.b.key=val") {
		t.Fatalf("expected nested group key, got: %s", buf.String())
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	for in, want := range map[string]bool{"simple": false, "has space": true, "k=v": true, `q"`: true, "": false} {
		if got := needsQuoting(in); got != want {
			t.Fatalf("needsQuoting(%q): got %v want %v", in, got, want)
		}
	}
}
