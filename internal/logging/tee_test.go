package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"archivist/internal/services"
)

func TestTeeRespectsEachLevel(t *testing.T) {
	var infoBuf, debugBuf bytes.Buffer
	h := tee{
		slog.NewJSONHandler(&infoBuf, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debugBuf, &slog.HandlerOptions{Level: slog.LevelDebug}),
	}
	logger := slog.New(h).With(FieldComponent, "pipeline")
	logger.Debug("debug only")
	logger.Info("both")

	if bytes.Contains(infoBuf.Bytes(), []byte("debug only")) {
		t.Fatal("info handler received a debug record")
	}
	if !bytes.Contains(debugBuf.Bytes(), []byte("debug only")) || !bytes.Contains(debugBuf.Bytes(), []byte("both")) {
		t.Fatalf("debug handler missing records: %s", debugBuf.String())
	}
	if !bytes.Contains(infoBuf.Bytes(), []byte(`"component":"pipeline"`)) {
		t.Fatalf("expected attrs propagated: %s", infoBuf.String())
	}
}

func TestJSONHandlerShapesRecords(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newJSONHandler(&buf, slog.LevelInfo, false))
	cause := services.Wrap(services.ErrPersistence, "store", "write", "write record", errors.New("disk full"))
	logger.Warn("record write failed", Error(cause))

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	ts, _ := entry["ts"].(string)
	if !strings.HasSuffix(ts, "Z") || len(ts) != len("2006-01-02T15:04:05.000Z") {
		t.Fatalf("unexpected ts %q", ts)
	}
	if _, ok := entry["time"]; ok {
		t.Fatalf("time key should be renamed: %v", entry)
	}
	if entry["level"] != "warn" {
		t.Fatalf("level = %v, want warn", entry["level"])
	}
	errField, ok := entry["error"].(map[string]any)
	if !ok {
		t.Fatalf("error should be an object: %v", entry)
	}
	if errField["kind"] != services.Details(cause).Kind {
		t.Fatalf("error kind = %v", errField["kind"])
	}
	if !strings.Contains(errField["message"].(string), "disk full") {
		t.Fatalf("error message = %v", errField["message"])
	}
}

func TestConsoleValueQuotesAmbiguousText(t *testing.T) {
	cases := map[string]string{
		"ok":          "ok",
		"":            `""`,
		" padded":     `" padded"`,
		"two\nlines":  `"two\nlines"`,
		"Lever Bros.": "Lever Bros.",
	}
	for in, want := range cases {
		if got := consoleValue(slog.StringValue(in)); got != want {
			t.Fatalf("consoleValue(%q) = %s, want %s", in, got, want)
		}
	}
	if got := consoleValue(slog.AnyValue([]string{"Art Deco", "Art Nouveau"})); got != "Art Deco, Art Nouveau" {
		t.Fatalf("string slice rendered as %q", got)
	}
}
