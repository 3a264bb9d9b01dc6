package lens

import (
	"context"
	"fmt"
	"strings"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
	"github.com/standardbeagle/errlens/internal/highlight"
	"github.com/standardbeagle/errlens/internal/sourcemap"
	"github.com/standardbeagle/errlens/internal/stack"
)

// Records returns every record in arrival order.
func (e *Engine) Records() []capture.View {
	return e.registry.Views()
}

// Record returns one record by ID.
func (e *Engine) Record(id string) (capture.View, bool) {
	rec, ok := e.registry.Get(id)
	if !ok {
		return capture.View{}, false
	}
	return rec.View(), true
}

// Total returns the number of occurrences across all records.
func (e *Engine) Total() int {
	return e.registry.Total()
}

// ClearAll removes every highlight and record.
func (e *Engine) ClearAll() error {
	return e.call(func() error {
		e.highlights.DetachAll()
		e.registry.Clear()
		debug.Log("lens", "cleared all records")
		return nil
	})
}

// ClearOne removes the record owning highlightID together with all of its
// highlights.
func (e *Engine) ClearOne(highlightID string) error {
	return e.call(func() error {
		rec, ok := e.registry.FindByHighlight(highlightID)
		if !ok {
			return fmt.Errorf("highlight %s: %w", highlightID, ErrNotFound)
		}
		e.removeRecord(rec)
		return nil
	})
}

// RemoveRecord removes a record by ID together with its highlights.
func (e *Engine) RemoveRecord(recordID string) error {
	return e.call(func() error {
		rec, ok := e.registry.Get(recordID)
		if !ok {
			return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		e.removeRecord(rec)
		return nil
	})
}

func (e *Engine) removeRecord(rec *capture.Record) {
	e.highlights.DetachRecord(rec)
	e.registry.Remove(rec.ID)
}

// Flash scrolls to and pulses the element carrying highlightID.
func (e *Engine) Flash(highlightID string) error {
	return e.call(func() error {
		if err := e.highlights.FlashID(highlightID); err != nil {
			return fmt.Errorf("highlight %s: %w", highlightID, ErrNotFound)
		}
		return nil
	})
}

// FlashRecord flashes the first element linked to a record.
func (e *Engine) FlashRecord(recordID string) error {
	return e.call(func() error {
		rec, ok := e.registry.Get(recordID)
		if !ok {
			return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		links := rec.Links()
		if len(links) == 0 {
			return fmt.Errorf("record %s has no highlighted element: %w", recordID, ErrNotFound)
		}
		if !e.highlights.Flash(links[0].Element) {
			return fmt.Errorf("record %s: %w", recordID, ErrNotFound)
		}
		return nil
	})
}

// ApplyStyle restyles every active highlight and returns the effective style.
func (e *Engine) ApplyStyle(s highlight.Style) (highlight.Style, error) {
	var applied highlight.Style
	err := e.call(func() error {
		applied = e.highlights.SetStyle(s)
		return nil
	})
	return applied, err
}

// Style returns the current highlight style.
func (e *Engine) Style() highlight.Style {
	return e.highlights.Style()
}

// ApplyFilters replaces the ignore patterns and turns capture on or off.
// Turning capture off removes every highlight.
func (e *Engine) ApplyFilters(patterns []string, enabled bool) error {
	return e.call(func() error {
		e.capturer.SetIgnorePatterns(patterns)
		e.userEnabled = enabled
		e.syncEnabled()
		return nil
	})
}

// Filters returns the ignore patterns and whether the user has capture
// enabled. The domain gate is reported separately by Capturing.
func (e *Engine) Filters() (patterns []string, enabled bool) {
	e.call(func() error {
		patterns = e.capturer.IgnorePatterns()
		enabled = e.userEnabled
		return nil
	})
	return patterns, enabled
}

// Capturing reports whether signals are currently being recorded.
func (e *Engine) Capturing() bool {
	return e.capturer.Enabled()
}

// SetDomainAllowed applies the domain gate for the current page.
func (e *Engine) SetDomainAllowed(allowed bool) error {
	return e.call(func() error {
		e.domainAllowed = allowed
		e.syncEnabled()
		return nil
	})
}

func (e *Engine) syncEnabled() {
	on := e.userEnabled && e.domainAllowed
	was := e.capturer.Enabled()
	e.capturer.SetEnabled(on)
	if was && !on {
		debug.Log("lens", "capture disabled, removing highlights")
		e.highlights.DetachAll()
	}
}

// Reset discards pending resolutions, highlights, records, listener
// registrations and the map cache.
func (e *Engine) Reset() error {
	return e.call(func() error {
		e.reset(false)
		return nil
	})
}

// reset clears pipeline state. When forget is set the document is about to
// be replaced, so highlights are dropped without restoring styles.
func (e *Engine) reset(forget bool) {
	e.generation.Add(1)
	e.resolver.Reset()
	if forget {
		e.highlights.Forget()
	} else {
		e.highlights.DetachAll()
	}
	e.registry.Clear()
	e.listeners.Reset()
}

// Navigate resets the pipeline for a new page. The mirror is emptied until
// the next snapshot arrives.
func (e *Engine) Navigate(pageURL string) error {
	return e.call(func() error {
		e.reset(true)
		debug.Log("lens", "navigated to %s", pageURL)
		return e.doc.Replace(strings.NewReader(""), pageURL)
	})
}

// ApplySnapshot replaces the mirrored document and re-identifies every
// record against it. A snapshot for a different page is a navigation; a
// change of fragment alone is not.
func (e *Engine) ApplySnapshot(s Snapshot) error {
	return e.call(func() error {
		if cur := e.doc.URL(); s.URL != "" && cur != "" && !samePage(s.URL, cur) {
			debug.Log("lens", "snapshot url changed from %s to %s", cur, s.URL)
			e.reset(true)
		} else {
			e.highlights.Forget()
		}
		if err := e.doc.Replace(strings.NewReader(s.HTML), s.URL); err != nil {
			return fmt.Errorf("failed to parse snapshot: %w", err)
		}

		e.listeners.Reset()
		for _, l := range s.Listeners {
			e.registerListener(l)
		}
		e.rescan()
		return nil
	})
}

// samePage reports whether two page URLs differ at most in their fragment.
func samePage(a, b string) bool {
	return stripFragment(a) == stripFragment(b)
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}

// Rescan drops state for elements that left the document and re-runs
// identification for every record.
func (e *Engine) Rescan() error {
	return e.call(func() error {
		e.highlights.Prune()
		e.listeners.Prune()
		e.rescan()
		return nil
	})
}

func (e *Engine) rescan() {
	for _, rec := range e.registry.List() {
		e.highlightRecord(rec)
	}
}

// RegisterListener records a listener for the element at path.
func (e *Engine) RegisterListener(ref ListenerRef) error {
	return e.call(func() error {
		if !e.registerListener(ref) {
			return fmt.Errorf("listener %s on %q: %w", ref.Function, ref.Path, ErrNotFound)
		}
		return nil
	})
}

func (e *Engine) registerListener(ref ListenerRef) bool {
	el := e.doc.Resolve(ref.Path)
	if el == nil {
		return false
	}
	return e.listeners.Register(el, ref.Event, ref.Function)
}

// Hover shows the tooltip for the element at path.
func (e *Engine) Hover(path string) (*highlight.Tooltip, error) {
	var tip *highlight.Tooltip
	err := e.call(func() error {
		if el := e.doc.Resolve(path); el != nil {
			tip = e.highlights.Hover(el)
		} else {
			e.highlights.Leave()
		}
		return nil
	})
	return tip, err
}

// Leave starts the delayed tooltip hide.
func (e *Engine) Leave() error {
	return e.call(func() error {
		e.highlights.Leave()
		return nil
	})
}

// Highlights returns the active highlight entries.
func (e *Engine) Highlights() []highlight.EntryView {
	return e.highlights.Entries()
}

// SyncHighlights re-emits every active highlight, for a reconnected page.
func (e *Engine) SyncHighlights() error {
	return e.call(func() error {
		e.highlights.Sync()
		return nil
	})
}

// SyncTo sends the complete highlight state to one sink. It runs on the
// queue, so no op emitted later can reach s before the state.
func (e *Engine) SyncTo(s highlight.Sink) error {
	return e.call(func() error {
		e.highlights.SyncTo(s)
		return nil
	})
}

// ResolveLocation remaps a single generated position.
func (e *Engine) ResolveLocation(ctx context.Context, file string, line, column int) *stack.Location {
	return e.resolver.Resolve(ctx, file, line, column)
}

// ResolverStats returns map cache and fetch counters.
func (e *Engine) ResolverStats() sourcemap.Stats {
	return e.resolver.Stats()
}

// Document returns the mirrored document.
func (e *Engine) Document() *dom.Document {
	return e.doc
}

// Metrics returns the engine's metrics.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}
