package capture

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// helperScript writes a shell script acting as the capture helper and
// returns its argv.
func helperScript(t *testing.T, body string) []string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "helper.sh")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("writing helper: %v", err)
	}
	return []string{path}
}

func TestCommandSource_Capture(t *testing.T) {
	argv := helperScript(t, `echo '{"application":"Mail","window_title":"Inbox","text":"Quarterly report draft","content_type":"text/plain"}'`)
	src, err := NewCommandSource(argv, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}

	ev, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}

	if ev.Application != "Mail" {
		t.Errorf("Application = %q, want Mail", ev.Application)
	}
	if ev.WindowTitle != "Inbox" {
		t.Errorf("WindowTitle = %q, want Inbox", ev.WindowTitle)
	}
	if ev.Text != "Quarterly report draft" {
		t.Errorf("Text = %q", ev.Text)
	}
	if ev.Kind != KindText {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindText)
	}
	if ev.ID == "" {
		t.Error("event ID is empty")
	}
	if ev.Timestamp.IsZero() {
		t.Error("event timestamp is zero")
	}
}

func TestCommandSource_HTMLStripped(t *testing.T) {
	argv := helperScript(t, `echo '{"application":"Safari","window_title":"Docs","text":"<html><head><style>p{}</style></head><body><p>Hello world</p><script>x()</script></body></html>","content_type":"text/html"}'`)
	src, err := NewCommandSource(argv, 5*time.Second)
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}

	ev, err := src.Capture(context.Background())
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if ev.Text != "Hello world" {
		t.Errorf("Text = %q, want %q", ev.Text, "Hello world")
	}
	if ev.Kind != KindHTML {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindHTML)
	}
}

func TestCommandSource_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		body string
		want ErrorKind
	}{
		{"permission denied", "echo 'no screen recording permission' >&2; exit 10", PermissionDenied},
		{"target vanished", "exit 11", TargetVanished},
		{"generic failure", "exit 1", Unavailable},
		{"bad output", "echo 'not json'", Unavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := NewCommandSource(helperScript(t, tt.body), 5*time.Second)
			if err != nil {
				t.Fatalf("NewCommandSource: %v", err)
			}

			_, err = src.Capture(context.Background())
			var capErr *Error
			if !errors.As(err, &capErr) {
				t.Fatalf("err = %v, want *capture.Error", err)
			}
			if capErr.Kind != tt.want {
				t.Errorf("kind = %v, want %v", capErr.Kind, tt.want)
			}
		})
	}
}

func TestCommandSource_Timeout(t *testing.T) {
	src, err := NewCommandSource(helperScript(t, "sleep 5"), 100*time.Millisecond)
	if err != nil {
		t.Fatalf("NewCommandSource: %v", err)
	}

	start := time.Now()
	_, err = src.Capture(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("capture took %v, timeout not applied", elapsed)
	}
}

func TestNewCommandSource_MissingHelper(t *testing.T) {
	if _, err := NewCommandSource([]string{"/nonexistent/helper"}, 0); err == nil {
		t.Error("expected error for missing helper executable")
	}
	if _, err := NewCommandSource(nil, 0); err == nil {
		t.Error("expected error for empty argv")
	}
}
