package scripts

import (
	"strings"
	"testing"
)

// TestCaptureScriptEmbedded verifies capture.js is properly embedded
func TestCaptureScriptEmbedded(t *testing.T) {
	if captureJS == "" {
		t.Fatal("captureJS is empty - file not embedded")
	}

	expectedPatterns := []string{
		"window.__errlens",
		"function pathOf",
		"function applyOp",
		"function serialize",
		"unhandledrejection",
		"'/__errlens/ws'",
		consolePlaceholder,
	}

	for _, pattern := range expectedPatterns {
		if !strings.Contains(captureJS, pattern) {
			t.Errorf("capture.js missing expected pattern: %s", pattern)
		}
	}
}

func TestCaptureConsoleFlag(t *testing.T) {
	tests := []struct {
		console bool
		want    string
	}{
		{true, "var CAPTURE_CONSOLE = true;"},
		{false, "var CAPTURE_CONSOLE = false;"},
	}
	for _, tt := range tests {
		got := Capture(tt.console)
		if !strings.Contains(got, tt.want) {
			t.Errorf("Capture(%v) missing %q", tt.console, tt.want)
		}
		if strings.Contains(got, consolePlaceholder) {
			t.Errorf("Capture(%v) left the placeholder in place", tt.console)
		}
	}
}

// The page must handle every op kind the highlight manager emits.
func TestCaptureHandlesAllOps(t *testing.T) {
	for _, op := range []string{"style", "scroll", "pulse", "unpulse", "tooltip", "hide-tooltip", "clear"} {
		if !strings.Contains(captureJS, "'"+op+"'") {
			t.Errorf("capture.js does not handle op %q", op)
		}
	}
}

// navigate resets the session, so it is sent once per page load and not for
// reconnects or fragment-only history changes.
func TestNavigateOncePerPage(t *testing.T) {
	for _, pattern := range []string{
		"if (!announced)",
		"var page = withoutHash(window.location.href);",
		"if (page !== currentPage)",
	} {
		if !strings.Contains(captureJS, pattern) {
			t.Errorf("capture.js missing %q", pattern)
		}
	}
	if n := strings.Count(captureJS, "send('navigate'"); n != 2 {
		t.Errorf("navigate sent from %d places, want 2", n)
	}
}
