package capture

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/stack"
)

// RejectionPrefix is prepended to rejection reasons that are not error objects.
const RejectionPrefix = "Unhandled Promise Rejection: "

// RawSignal is an error signal as reported by the page, before normalisation.
type RawSignal struct {
	Kind    Kind
	Message string
	// File, Line and Column come from the error event. They are empty for
	// rejections and logged errors, whose location is taken from the stack.
	File   string
	Line   int
	Column int
	Stack  string
	// Target is the element the failing event was dispatched to, if any.
	Target *html.Node
	// IsError reports whether the rejected or logged value was an error
	// object. A synthetic stack is built from CallSite otherwise.
	IsError bool
	// CallSite is the stack at the logging call, used for synthetic stacks.
	CallSite  string
	Timestamp time.Time
}

// Consumer receives every accepted record. Consumers run synchronously in
// registration order; an error or panic is logged and does not stop the rest.
type Consumer func(*Record) error

// Capturer normalises raw signals and applies the enablement and
// ignore-pattern filters.
type Capturer struct {
	mu        sync.RWMutex
	enabled   bool
	patterns  []Pattern
	consumers []Consumer
	now       func() time.Time
}

// NewCapturer creates an enabled capturer with no ignore patterns.
func NewCapturer() *Capturer {
	return &Capturer{
		enabled: true,
		now:     time.Now,
	}
}

// SetEnabled turns capture on or off for subsequent signals.
func (c *Capturer) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
}

// Enabled reports whether capture is on.
func (c *Capturer) Enabled() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled
}

// SetIgnorePatterns replaces the ignore patterns for subsequent signals.
func (c *Capturer) SetIgnorePatterns(patterns []string) {
	compiled := CompilePatterns(patterns)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.patterns = compiled
}

// IgnorePatterns returns the configured patterns as written.
func (c *Capturer) IgnorePatterns() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.patterns))
	for i, p := range c.patterns {
		out[i] = p.Raw
	}
	return out
}

// Subscribe registers a consumer for accepted records.
func (c *Capturer) Subscribe(fn Consumer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumers = append(c.consumers, fn)
}

// Capture normalises sig into a record. It returns false when the signal is
// suppressed because capture is disabled or the message is ignored.
func (c *Capturer) Capture(sig RawSignal) (*Record, bool) {
	c.mu.RLock()
	enabled := c.enabled
	patterns := c.patterns
	consumers := append([]Consumer(nil), c.consumers...)
	c.mu.RUnlock()

	if !enabled {
		return nil, false
	}

	rec := c.normalize(sig)
	for _, p := range patterns {
		if p.Match(rec.Message) {
			debug.Log("capture", "suppressed %q by pattern %q", rec.Message, p.Raw)
			return nil, false
		}
	}

	for i, fn := range consumers {
		notify(i, fn, rec)
	}
	return rec, true
}

func notify(idx int, fn Consumer, rec *Record) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error("capture", "consumer %d panicked: %v", idx, r)
		}
	}()
	if err := fn(rec); err != nil {
		debug.Error("capture", "consumer %d failed: %v", idx, err)
	}
}

func (c *Capturer) normalize(sig RawSignal) *Record {
	at := sig.Timestamp
	if at.IsZero() {
		at = c.now()
	}

	kind := sig.Kind
	if !kind.Valid() {
		kind = KindRuntime
	}

	message := strings.TrimSpace(sig.Message)
	stackText := sig.Stack

	switch kind {
	case KindRejection:
		if !sig.IsError && !strings.HasPrefix(message, RejectionPrefix) {
			message = RejectionPrefix + message
		}
	case KindLogged:
		if !sig.IsError || strings.TrimSpace(stackText) == "" {
			stackText = syntheticStack(message, sig.CallSite)
		}
	}

	frames := stack.Parse(stackText)
	raw := stack.Location{File: sig.File, Line: sig.Line, Column: sig.Column}
	if raw.IsZero() {
		if primary, ok := stack.Primary(frames); ok {
			raw = primary.Location()
		}
	}

	return newRecord(kind, message, raw, frames, stackText, sig.Target, at)
}

// syntheticStack builds an error-shaped stack for a logged value that was not
// an error object: a message line followed by the frames of the call site,
// minus the leading line when it is itself a message line.
func syntheticStack(message, callSite string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s", message)
	lines := strings.Split(strings.TrimRight(callSite, "\n"), "\n")
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if i == 0 {
			if _, ok := stack.ParseLine(line); !ok {
				continue
			}
		}
		b.WriteString("\n")
		b.WriteString(line)
	}
	return b.String()
}

// Pattern is a compiled ignore rule.
type Pattern struct {
	Raw string
	re  *regexp.Regexp
}

// CompilePatterns compiles ignore rules. Each rule is tried as a regular
// expression; rules that fail to compile match as literal substrings.
func CompilePatterns(raw []string) []Pattern {
	patterns := make([]Pattern, 0, len(raw))
	for _, r := range raw {
		if r == "" {
			continue
		}
		p := Pattern{Raw: r}
		if re, err := regexp.Compile(r); err == nil {
			p.re = re
		} else {
			debug.Log("capture", "ignore pattern %q is not a valid regexp, matching as substring", r)
		}
		patterns = append(patterns, p)
	}
	return patterns
}

// Match reports whether the message is covered by the rule.
func (p Pattern) Match(message string) bool {
	if p.re != nil {
		return p.re.MatchString(message)
	}
	return strings.Contains(message, p.Raw)
}
