// Package stack parses script stack traces into structured frames.
package stack

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Location is a position in a script file. Line and Column are 1-indexed.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

// String formats the location as file:line:column.
func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// IsZero reports whether the location carries no file.
func (l Location) IsZero() bool {
	return l.File == ""
}

// Frame is a single stack frame.
type Frame struct {
	// Function is empty for anonymous frames.
	Function string `json:"function,omitempty"`
	File     string `json:"file"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	// Raw is the original line from the stack text.
	Raw    string `json:"raw,omitempty"`
	Native bool   `json:"native,omitempty"`
	// Resolved is set when the position was remapped through a source map.
	Resolved bool `json:"resolved,omitempty"`
}

// Location returns the frame's position.
func (f Frame) Location() Location {
	return Location{File: f.File, Line: f.Line, Column: f.Column}
}

// HasPosition reports whether the frame can be remapped.
func (f Frame) HasPosition() bool {
	return !f.Native && f.File != "" && f.Line > 0
}

var (
	// at fn (file:line:col)
	chromeNamed = regexp.MustCompile(`^\s*at\s+(?:async\s+)?(.+?)\s+\((.+?):(\d+):(\d+)\)\s*$`)
	// at file:line:col
	chromeAnon = regexp.MustCompile(`^\s*at\s+(?:async\s+)?(.+?):(\d+):(\d+)\s*$`)
	// at fn (native) / at fn (<anonymous>)
	chromeNative = regexp.MustCompile(`^\s*at\s+(.+?)\s+\((?:native|<anonymous>)\)\s*$`)
	// fn@file:line:col (Firefox, Safari)
	geckoFrame = regexp.MustCompile(`^\s*(.*?)@(.+?):(\d+):(\d+)\s*$`)
	// bare file:line:col
	bareFrame = regexp.MustCompile(`^\s*(\S+?):(\d+):(\d+)\s*$`)
)

// Parse parses stack text into frames. Lines that are not frames (such as the
// leading message line) are skipped.
func Parse(text string) []Frame {
	lines := strings.Split(text, "\n")
	frames := make([]Frame, 0, len(lines))
	for _, line := range lines {
		if frame, ok := ParseLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// ParseLine parses a single stack line.
func ParseLine(line string) (Frame, bool) {
	trimmed := strings.TrimRight(line, "\r")
	if strings.TrimSpace(trimmed) == "" {
		return Frame{}, false
	}

	if m := chromeNative.FindStringSubmatch(trimmed); m != nil {
		return Frame{Raw: trimmed, Function: m[1], File: "native", Native: true}, true
	}
	if m := chromeNamed.FindStringSubmatch(trimmed); m != nil {
		return newFrame(trimmed, m[1], m[2], m[3], m[4]), true
	}
	if m := chromeAnon.FindStringSubmatch(trimmed); m != nil {
		return newFrame(trimmed, "", m[1], m[2], m[3]), true
	}
	if m := geckoFrame.FindStringSubmatch(trimmed); m != nil {
		return newFrame(trimmed, m[1], m[2], m[3], m[4]), true
	}
	if m := bareFrame.FindStringSubmatch(trimmed); m != nil {
		return newFrame(trimmed, "", m[1], m[2], m[3]), true
	}
	return Frame{}, false
}

func newFrame(raw, fn, file, line, col string) Frame {
	l, _ := strconv.Atoi(line)
	c, _ := strconv.Atoi(col)
	if fn == "<anonymous>" {
		fn = ""
	}
	return Frame{Raw: raw, Function: fn, File: file, Line: l, Column: c}
}

// Primary returns the first frame with a position. The first frame after the
// message line is authoritative for a record's displayed location.
func Primary(frames []Frame) (Frame, bool) {
	for _, f := range frames {
		if f.HasPosition() {
			return f, true
		}
	}
	return Frame{}, false
}

// Format renders frames back into Chrome-style stack text.
func Format(frames []Frame) string {
	lines := make([]string, len(frames))
	for i, f := range frames {
		switch {
		case f.Native:
			lines[i] = fmt.Sprintf("    at %s (native)", f.Function)
		case f.Function == "":
			lines[i] = fmt.Sprintf("    at %s:%d:%d", f.File, f.Line, f.Column)
		default:
			lines[i] = fmt.Sprintf("    at %s (%s:%d:%d)", f.Function, f.File, f.Line, f.Column)
		}
	}
	return strings.Join(lines, "\n")
}
