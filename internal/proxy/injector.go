package proxy

import (
	"bytes"
	"strings"
	"sync"

	"github.com/standardbeagle/errlens/internal/proxy/scripts"
)

var (
	// Both variants are built once; the script never changes at runtime.
	cachedScripts     [2]string
	cachedScriptsOnce sync.Once
)

// instrumentationScript returns the capture script, with or without console
// capture.
func instrumentationScript(captureConsole bool) string {
	cachedScriptsOnce.Do(func() {
		cachedScripts[0] = generateInstrumentationScript(false)
		cachedScripts[1] = generateInstrumentationScript(true)
	})
	if captureConsole {
		return cachedScripts[1]
	}
	return cachedScripts[0]
}

// generateInstrumentationScript wraps the capture script in a script tag.
//
// The page keeps no attribution state of its own. It reports errors, listener
// registrations and document snapshots, and applies the highlight ops it is
// sent. Elements are addressed by the same nth-child paths the mirror uses.
func generateInstrumentationScript(captureConsole bool) string {
	return "\n<script>\n" + scripts.Capture(captureConsole) + "</script>\n"
}

// InjectInstrumentation adds the capture script to an HTML response. The
// script goes before </head>, after <head...>, after <body...>, after
// <html...>, or at the start, whichever applies first. Tag names match
// case-insensitively.
func InjectInstrumentation(body []byte, captureConsole bool) []byte {
	return insertAt(body, injectionPoint(body), instrumentationScript(captureConsole))
}

func injectionPoint(body []byte) int {
	lower := asciiLower(body)
	if idx := bytes.Index(lower, []byte("</head>")); idx != -1 {
		return idx
	}
	for _, tag := range []string{"<head", "<body", "<html"} {
		if end := afterOpenTag(lower, tag); end != -1 {
			return end
		}
	}
	return 0
}

// afterOpenTag returns the offset just past the first <tag ...> in b, or -1.
// Longer names sharing the prefix, such as <header>, do not match.
func afterOpenTag(b []byte, tag string) int {
	from := 0
	for {
		i := bytes.Index(b[from:], []byte(tag))
		if i == -1 {
			return -1
		}
		i += from + len(tag)
		if i < len(b) && (b[i] == '>' || b[i] == ' ' || b[i] == '\t' || b[i] == '\n' || b[i] == '\r' || b[i] == '/') {
			if end := bytes.IndexByte(b[i:], '>'); end != -1 {
				return i + end + 1
			}
			return -1
		}
		from = i
	}
}

// asciiLower folds ASCII letters only, so offsets stay valid in the original.
func asciiLower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}

func insertAt(body []byte, at int, script string) []byte {
	result := make([]byte, 0, len(body)+len(script))
	result = append(result, body[:at]...)
	result = append(result, script...)
	result = append(result, body[at:]...)
	return result
}

// ShouldInject determines if JavaScript should be injected based on content type.
func ShouldInject(contentType string) bool {
	contentType = strings.ToLower(contentType)
	return strings.Contains(contentType, "text/html")
}
