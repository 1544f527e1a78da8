package logger

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestDefaultLogsWithoutPanic(t *testing.T) {
	t.Parallel()
	log := Default()
	if log == nil {
		t.Fatal("Default: got nil logger")
	}
	log.Debug("debug line")
	log.Info("info line")
	log.Warn("warn line")
	log.Error("error line")
}

func TestJSONEmitsFields(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo)
	log.Info("decode finished", "frames", "42")

	out := buf.String()
	for _, want := range []string{`"msg":"decode finished"`, `"frames":"42"`, `"level":"INFO"`} {
		if !strings.Contains(out, want) {
			t.Errorf("JSON output missing %s: %s", want, out)
		}
	}
}

func TestJSONFiltersBelowLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelWarn)

	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info record below warn level was written: %s", buf.String())
	}
	log.Warn("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn record missing: %s", buf.String())
	}
}

func TestPrettyFormatsLine(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)
	log.Info("session opened", "id", "abc")

	out := buf.String()
	if !strings.Contains(out, "session opened") {
		t.Errorf("message missing from output: %s", out)
	}
	if !strings.Contains(out, "id=abc") {
		t.Errorf("key=value pair missing from output: %s", out)
	}
}

func TestPrettyHonorsDebugLevel(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelDebug)
	log.Debug("verbose detail")
	if !strings.Contains(buf.String(), "verbose detail") {
		t.Fatalf("debug record missing at debug level: %s", buf.String())
	}
}

func TestWithCarriesAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).With("search", "alsd")
	log.Info("started")

	if !strings.Contains(buf.String(), `"search":"alsd"`) {
		t.Fatalf("bound attribute missing: %s", buf.String())
	}
}

func TestWithGroupNestsAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := JSON(&buf, slog.LevelInfo).WithGroup("beam")
	log.Info("pruned", "size", "4")

	if !strings.Contains(buf.String(), `"beam":{"size":"4"}`) {
		t.Fatalf("grouped attribute missing: %s", buf.String())
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	t.Parallel()
	log := FromContext(context.Background())
	if log == nil {
		t.Fatal("FromContext: got nil logger for empty context")
	}
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	stored := JSON(&buf, slog.LevelInfo)
	ctx := WithContext(context.Background(), stored)

	got := FromContext(ctx)
	got.Info("through context")
	if !strings.Contains(buf.String(), "through context") {
		t.Fatalf("context logger did not reach the stored writer: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
		{"DEBUG", slog.LevelInfo}, // matching is case sensitive
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPrettyHandlerEnabled(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})

	if h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info enabled under a warn threshold")
	}
	if !h.Enabled(context.Background(), slog.LevelError) {
		t.Error("error disabled under a warn threshold")
	}

	// Nil options default to info.
	h = NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("debug enabled without an explicit level")
	}
	if !h.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("info disabled without an explicit level")
	}
}

func TestPrettyHandlerWithAttrs(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithAttrs([]slog.Attr{slog.String("service", "lattice")})
	slog.New(h).Info("up")

	if !strings.Contains(buf.String(), "service=lattice") {
		t.Fatalf("handler attribute missing: %s", buf.String())
	}
}

func TestPrettyHandlerGroupPrefix(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithGroup("decode")
	slog.New(h).Info("done", "frames", "9")

	if !strings.Contains(buf.String(), "decode.frames=9") {
		t.Fatalf("group prefix missing: %s", buf.String())
	}
}

func TestPrettyHandlerNestedGroups(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	h := NewPrettyHandler(&buf, nil).WithGroup("api").(*PrettyHandler).WithGroup("session")
	slog.New(h).Info("open", "id", "7")

	if !strings.Contains(buf.String(), "api.session.id=7") {
		t.Fatalf("nested group prefix missing: %s", buf.String())
	}
}

func TestPrettyHandlerEmptyGroup(t *testing.T) {
	t.Parallel()
	h := NewPrettyHandler(&bytes.Buffer{}, nil)
	if h.WithGroup("") != slog.Handler(h) {
		t.Fatal("empty group name should return the same handler")
	}
}

func TestPrettyQuotesStringsWithSpaces(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := Pretty(&buf, slog.LevelInfo)

	log.Info("note", "text", "hello world")
	if !strings.Contains(buf.String(), `text="hello world"`) {
		t.Errorf("spaced value not quoted: %s", buf.String())
	}

	buf.Reset()
	log.Info("note", "text", "plain")
	if !strings.Contains(buf.String(), "text=plain") || strings.Contains(buf.String(), `"plain"`) {
		t.Errorf("simple value should stay unquoted: %s", buf.String())
	}
}

func TestNeedsQuoting(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"plain", false},
		{"with space", true},
		{"with\ttab", true},
		{"with\nnewline", true},
		{`with"quote`, true},
		{"", false},
	}
	for _, tt := range tests {
		if got := needsQuoting(tt.in); got != tt.want {
			t.Errorf("needsQuoting(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
