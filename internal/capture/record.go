// Package capture turns raw page error signals into canonical, deduplicated
// error records.
package capture

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/stack"
)

// Kind classifies where an error signal came from.
type Kind string

const (
	// KindRuntime is an uncaught exception.
	KindRuntime Kind = "runtime"
	// KindRejection is an unhandled promise rejection.
	KindRejection Kind = "promise-rejection"
	// KindLogged is an error written to the diagnostic console.
	KindLogged Kind = "logged"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindRuntime, KindRejection, KindLogged:
		return true
	}
	return false
}

// Link associates a record with one highlighted element.
type Link struct {
	Element     *html.Node
	HighlightID string
}

// Record is the canonical representation of one captured failure.
//
// The exported fields are fixed at capture time. Count, resolution and
// element links change over the record's lifetime and are accessed through
// methods.
type Record struct {
	ID      string
	Kind    Kind
	Message string
	// Source is the file the error originated from.
	Source    string
	Raw       stack.Location
	Frames    []stack.Frame
	Stack     string
	Target    *html.Node
	FirstSeen time.Time

	mu             sync.RWMutex
	count          int
	lastSeen       time.Time
	resolved       *stack.Location
	resolvedFrames []stack.Frame
	links          []Link
}

func newRecord(kind Kind, message string, raw stack.Location, frames []stack.Frame, stackText string, target *html.Node, at time.Time) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Source:    raw.File,
		Raw:       raw,
		Frames:    frames,
		Stack:     stackText,
		Target:    target,
		FirstSeen: at,
		count:     1,
		lastSeen:  at,
	}
}

// Count returns how many times the error occurred.
func (r *Record) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// LastSeen returns the time of the latest occurrence.
func (r *Record) LastSeen() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastSeen
}

func (r *Record) increment(at time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count++
	r.lastSeen = at
	return r.count
}

// SetResolved stores the remapped stack. The displayed location is taken from
// the first positioned frame, and only when that frame was actually remapped.
func (r *Record) SetResolved(frames []stack.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvedFrames = frames
	r.resolved = nil
	if primary, ok := stack.Primary(frames); ok && primary.Resolved {
		loc := primary.Location()
		r.resolved = &loc
	}
}

// Resolved returns the remapped location, or nil if resolution failed or has
// not finished.
func (r *Record) Resolved() *stack.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.resolved == nil {
		return nil
	}
	loc := *r.resolved
	return &loc
}

// ResolvedFrames returns the remapped stack, or nil before resolution.
func (r *Record) ResolvedFrames() []stack.Frame {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]stack.Frame(nil), r.resolvedFrames...)
}

// Location returns the location to display: the remapped one when available,
// otherwise the raw one.
func (r *Record) Location() stack.Location {
	if loc := r.Resolved(); loc != nil {
		return *loc
	}
	return r.Raw
}

// AddLink records a highlight of el for this error. A second link to the same
// element is ignored.
func (r *Record) AddLink(el *html.Node, highlightID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.links {
		if l.Element == el {
			return false
		}
	}
	r.links = append(r.links, Link{Element: el, HighlightID: highlightID})
	return true
}

// RemoveLink drops the link with the given highlight ID.
func (r *Record) RemoveLink(highlightID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.links {
		if l.HighlightID == highlightID {
			r.links = append(r.links[:i], r.links[i+1:]...)
			return true
		}
	}
	return false
}

// ClearLinks drops every element link.
func (r *Record) ClearLinks() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.links = nil
}

// Links returns the element links in association order.
func (r *Record) Links() []Link {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]Link(nil), r.links...)
}

// HasLink reports whether highlightID belongs to this record.
func (r *Record) HasLink(highlightID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.links {
		if l.HighlightID == highlightID {
			return true
		}
	}
	return false
}

// View is a point-in-time, serialisable copy of a record.
type View struct {
	ID           string          `json:"id"`
	Kind         Kind            `json:"kind"`
	Message      string          `json:"message"`
	Source       string          `json:"source,omitempty"`
	Raw          stack.Location  `json:"raw"`
	Resolved     *stack.Location `json:"resolved,omitempty"`
	Location     stack.Location  `json:"location"`
	Frames       []stack.Frame   `json:"frames,omitempty"`
	Stack        string          `json:"stack,omitempty"`
	FirstSeen    time.Time       `json:"first_seen"`
	LastSeen     time.Time       `json:"last_seen"`
	Count        int             `json:"count"`
	HighlightIDs []string        `json:"highlight_ids,omitempty"`
}

// View returns a snapshot of the record.
func (r *Record) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v := View{
		ID:        r.ID,
		Kind:      r.Kind,
		Message:   r.Message,
		Source:    r.Source,
		Raw:       r.Raw,
		Location:  r.Raw,
		Frames:    r.Frames,
		Stack:     r.Stack,
		FirstSeen: r.FirstSeen,
		LastSeen:  r.lastSeen,
		Count:     r.count,
	}
	if r.resolved != nil {
		loc := *r.resolved
		v.Resolved = &loc
		v.Location = loc
	}
	if len(r.resolvedFrames) > 0 {
		v.Frames = append([]stack.Frame(nil), r.resolvedFrames...)
	}
	for _, l := range r.links {
		v.HighlightIDs = append(v.HighlightIDs, l.HighlightID)
	}
	return v
}
