package dom

import (
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// Listener records one event handler bound to an element.
type Listener struct {
	Element  *html.Node
	Event    string
	Function string
}

// ListenerRegistry records, for every handler bound through Register, the
// handler's function name and the element it was bound to.
//
// Handlers must be bound through Register (the page-side equivalent is the
// injected __errlens.on wrapper); nothing is discovered implicitly.
type ListenerRegistry struct {
	doc *Document

	mu        sync.RWMutex
	listeners []*Listener
	byName    map[string][]*Listener
}

// NewListenerRegistry creates an empty registry for doc.
func NewListenerRegistry(doc *Document) *ListenerRegistry {
	return &ListenerRegistry{
		doc:    doc,
		byName: make(map[string][]*Listener),
	}
}

// Register records that fn handles event on el. Anonymous handlers and
// detached elements are ignored, as are exact duplicates.
func (r *ListenerRegistry) Register(el *html.Node, event, fn string) bool {
	name := NormalizeFunctionName(fn)
	if name == "" || !r.doc.Contains(el) {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range r.byName[name] {
		if l.Element == el && l.Event == event {
			return false
		}
	}
	l := &Listener{Element: el, Event: event, Function: name}
	r.listeners = append(r.listeners, l)
	r.byName[name] = append(r.byName[name], l)
	return true
}

// Unregister removes a registration made by Register.
func (r *ListenerRegistry) Unregister(el *html.Node, event, fn string) {
	name := NormalizeFunctionName(fn)

	r.mu.Lock()
	defer r.mu.Unlock()

	r.listeners = filterListeners(r.listeners, func(l *Listener) bool {
		return !(l.Element == el && l.Event == event && l.Function == name)
	})
	r.byName[name] = filterListeners(r.byName[name], func(l *Listener) bool {
		return !(l.Element == el && l.Event == event)
	})
	if len(r.byName[name]) == 0 {
		delete(r.byName, name)
	}
}

// Lookup returns the still-attached elements with a handler named name, in
// registration order and without duplicates.
func (r *ListenerRegistry) Lookup(name string) []*html.Node {
	name = NormalizeFunctionName(name)
	if name == "" {
		return nil
	}

	r.mu.RLock()
	matches := append([]*Listener(nil), r.byName[name]...)
	r.mu.RUnlock()

	seen := make(map[*html.Node]bool, len(matches))
	var result []*html.Node
	for _, l := range matches {
		if seen[l.Element] || !r.doc.Contains(l.Element) {
			continue
		}
		seen[l.Element] = true
		result = append(result, l.Element)
	}
	return result
}

// Prune drops registrations whose element left the document and returns how
// many were removed.
func (r *ListenerRegistry) Prune() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := len(r.listeners)
	r.listeners = filterListeners(r.listeners, func(l *Listener) bool {
		return r.doc.Contains(l.Element)
	})
	for name, ls := range r.byName {
		kept := filterListeners(ls, func(l *Listener) bool {
			return r.doc.Contains(l.Element)
		})
		if len(kept) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = kept
		}
	}
	return before - len(r.listeners)
}

// Reset clears every registration.
func (r *ListenerRegistry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = nil
	r.byName = make(map[string][]*Listener)
}

// Len returns the number of registrations.
func (r *ListenerRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.listeners)
}

// NormalizeFunctionName reduces a frame or handler descriptor to the bare
// function name: "bound " prefixes and receiver qualifiers such as
// "HTMLButtonElement." or "Object." are dropped.
func NormalizeFunctionName(fn string) string {
	fn = strings.TrimSpace(fn)
	for strings.HasPrefix(fn, "bound ") {
		fn = strings.TrimPrefix(fn, "bound ")
	}
	fn = strings.TrimPrefix(fn, "async ")
	fn = strings.TrimPrefix(fn, "new ")
	if idx := strings.Index(fn, " [as "); idx != -1 {
		fn = fn[:idx]
	}
	if idx := strings.LastIndexByte(fn, '.'); idx != -1 {
		fn = fn[idx+1:]
	}
	switch fn {
	case "", "<anonymous>", "anonymous", "<unknown>":
		return ""
	}
	return fn
}

func filterListeners(ls []*Listener, keep func(*Listener) bool) []*Listener {
	out := ls[:0]
	for _, l := range ls {
		if keep(l) {
			out = append(out, l)
		}
	}
	return out
}
