// Package highlight owns the visible link between errors and page elements.
//
// Each highlighted element has one entry holding the element's pre-highlight
// inline style and the ordered errors associated with it. Entries move
// between none, single and multiple state as associations are added and
// removed; when the last association goes, the saved style is put back.
//
// The Manager mutates the mirrored document and reports every visual change
// as an Op so the live page can follow.
package highlight

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
)

// ErrNotFound is returned when a highlight ID is unknown.
var ErrNotFound = errors.New("highlight not found")

// Options configures a Manager.
type Options struct {
	Style Style
	// FlashDuration is how long a flash pulse lasts.
	// Default: 1.5 seconds
	FlashDuration time.Duration
	// HideDelay gates tooltip hiding after the pointer leaves.
	// Default: 150ms
	HideDelay time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Style:         DefaultStyle(),
		FlashDuration: 1500 * time.Millisecond,
		HideDelay:     150 * time.Millisecond,
	}
}

type association struct {
	id  string
	rec *capture.Record
}

type entry struct {
	el       *html.Node
	snap     snapshot
	rawStyle string
	hadStyle bool
	assocs   []association
	flash    *time.Timer
}

func (e *entry) state() State {
	switch len(e.assocs) {
	case 0:
		return StateNone
	case 1:
		return StateSingle
	default:
		return StateMultiple
	}
}

func (e *entry) has(rec *capture.Record) (string, bool) {
	for _, a := range e.assocs {
		if a.rec == rec {
			return a.id, true
		}
	}
	return "", false
}

// Manager tracks highlight entries for one document.
type Manager struct {
	doc    *dom.Document
	sink   Sink
	policy *bluemonday.Policy

	mu      sync.Mutex
	opts    Options
	entries []*entry
	byEl    map[*html.Node]*entry
	byID    map[string]*entry

	hovered   *entry
	hideTimer *time.Timer
	pending   []Op
}

// NewManager creates a manager. A nil sink discards ops.
func NewManager(doc *dom.Document, sink Sink, opts Options) *Manager {
	def := DefaultOptions()
	if opts.FlashDuration <= 0 {
		opts.FlashDuration = def.FlashDuration
	}
	if opts.HideDelay <= 0 {
		opts.HideDelay = def.HideDelay
	}
	opts.Style = opts.Style.Normalize()
	if sink == nil {
		sink = nopSink{}
	}
	return &Manager{
		doc:    doc,
		sink:   sink,
		policy: tooltipPolicy(),
		opts:   opts,
		byEl:   make(map[*html.Node]*entry),
		byID:   make(map[string]*entry),
	}
}

// lock and unlock bracket every mutation; ops queued in between are emitted
// after the lock is released, in order.
func (m *Manager) lock() { m.mu.Lock() }

func (m *Manager) unlock() {
	ops := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, op := range ops {
		m.sink.Emit(op)
	}
}

func (m *Manager) emit(op Op) {
	m.pending = append(m.pending, op)
}

// Attach associates rec with el and returns the highlight ID. Attaching to a
// detached element is a no-op that returns "". Attaching a record that is
// already linked to el returns the existing ID.
func (m *Manager) Attach(el *html.Node, rec *capture.Record) string {
	m.lock()
	defer m.unlock()

	if !m.doc.Contains(el) {
		debug.Log("highlight", "ignoring attach to detached element")
		return ""
	}

	e, ok := m.byEl[el]
	if !ok {
		style := m.doc.InlineStyle(el)
		raw, had := m.doc.Attr(el, "style")
		e = &entry{el: el, snap: takeSnapshot(style), rawStyle: raw, hadStyle: had}
		m.byEl[el] = e
		m.entries = append(m.entries, e)
	} else if id, linked := e.has(rec); linked {
		return id
	}

	id := uuid.NewString()
	e.assocs = append(e.assocs, association{id: id, rec: rec})
	m.byID[id] = e
	rec.AddLink(el, id)

	// Re-render only on the none->single and single->multiple transitions.
	if n := len(e.assocs); n <= 2 {
		m.render(e)
	} else {
		m.emitState(e)
	}
	debug.Log("highlight", "attached %s to %s (%s)", id, dom.Describe(el), e.state())
	return id
}

// Detach removes the association with highlightID from el, or every
// association when highlightID is empty.
func (m *Manager) Detach(el *html.Node, highlightID string) bool {
	m.lock()
	defer m.unlock()

	e, ok := m.byEl[el]
	if !ok {
		return false
	}
	if highlightID == "" {
		m.dropEntry(e, true)
		return true
	}
	return m.detachOne(e, highlightID)
}

// DetachID removes a single association by ID.
func (m *Manager) DetachID(highlightID string) error {
	m.lock()
	defer m.unlock()

	e, ok := m.byID[highlightID]
	if !ok {
		return ErrNotFound
	}
	m.detachOne(e, highlightID)
	return nil
}

// DetachRecord removes every association of rec.
func (m *Manager) DetachRecord(rec *capture.Record) int {
	removed := 0
	for _, link := range rec.Links() {
		if m.Detach(link.Element, link.HighlightID) {
			removed++
		}
	}
	return removed
}

// DetachAll restores every element and clears all entries.
func (m *Manager) DetachAll() {
	m.lock()
	defer m.unlock()

	for len(m.entries) > 0 {
		m.dropEntry(m.entries[0], true)
	}
	m.hideTooltip()
}

func (m *Manager) detachOne(e *entry, highlightID string) bool {
	for i, a := range e.assocs {
		if a.id != highlightID {
			continue
		}
		e.assocs = append(e.assocs[:i], e.assocs[i+1:]...)
		delete(m.byID, highlightID)
		a.rec.RemoveLink(highlightID)

		switch len(e.assocs) {
		case 0:
			m.dropEntry(e, true)
		case 1:
			m.render(e)
		default:
			m.emitState(e)
		}
		return true
	}
	return false
}

// dropEntry removes e, restoring the saved style when restore is set and the
// element is still attached.
func (m *Manager) dropEntry(e *entry, restore bool) {
	for _, a := range e.assocs {
		delete(m.byID, a.id)
		a.rec.RemoveLink(a.id)
	}
	e.assocs = nil
	if e.flash != nil {
		e.flash.Stop()
		e.flash = nil
	}
	delete(m.byEl, e.el)
	for i, cur := range m.entries {
		if cur == e {
			m.entries = append(m.entries[:i], m.entries[i+1:]...)
			break
		}
	}
	if m.hovered == e {
		m.hideTooltip()
	}
	if restore {
		m.restore(e)
	}
}

func (m *Manager) restore(e *entry) {
	path := m.doc.Path(e.el)
	ok := m.doc.UpdateStyle(e.el, func(d *dom.Declarations) {
		e.snap.restore(d)
	})
	if !ok {
		return
	}

	// When nothing else changed, put back the attribute text verbatim.
	current, _ := m.doc.Attr(e.el, "style")
	if current == dom.ParseStyle(e.rawStyle).String() {
		if e.hadStyle {
			m.doc.SetAttr(e.el, "style", e.rawStyle)
		} else {
			m.doc.RemoveAttr(e.el, "style")
		}
	}
	m.doc.RemoveAttr(e.el, StateAttr)

	style, has := m.doc.Attr(e.el, "style")
	m.emit(Op{Kind: OpStyle, Path: path, Style: style, RemoveStyle: !has, State: StateNone})
}

// render applies the current style for e's state on top of its snapshot.
func (m *Manager) render(e *entry) {
	state := e.state()
	decls := m.opts.Style.declarations(state)
	ok := m.doc.UpdateStyle(e.el, func(d *dom.Declarations) {
		e.snap.restore(d)
		for _, decl := range decls {
			d.Set(decl.Property, decl.Value)
		}
	})
	if !ok {
		return
	}
	m.doc.SetAttr(e.el, StateAttr, string(state))
	m.emitState(e)
}

func (m *Manager) emitState(e *entry) {
	m.emit(m.stateOp(e))
}

func (m *Manager) stateOp(e *entry) Op {
	style, _ := m.doc.Attr(e.el, "style")
	return Op{
		Kind:  OpStyle,
		Path:  m.doc.Path(e.el),
		Style: style,
		State: e.state(),
		Count: len(e.assocs),
	}
}

// SetStyle changes the highlight style and re-renders every active entry.
func (m *Manager) SetStyle(s Style) Style {
	m.lock()
	defer m.unlock()

	m.opts.Style = s.Normalize()
	for _, e := range m.entries {
		m.render(e)
	}
	return m.opts.Style
}

// Style returns the current style.
func (m *Manager) Style() Style {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opts.Style
}

// Flash scrolls el into view and pulses it for FlashDuration. It reports
// false when el has no entry.
func (m *Manager) Flash(el *html.Node) bool {
	m.lock()
	defer m.unlock()

	e, ok := m.byEl[el]
	if !ok || !m.doc.Contains(el) {
		return false
	}
	m.flash(e)
	return true
}

// FlashID flashes the element owning highlightID.
func (m *Manager) FlashID(highlightID string) error {
	m.lock()
	defer m.unlock()

	e, ok := m.byID[highlightID]
	if !ok {
		return ErrNotFound
	}
	m.flash(e)
	return nil
}

func (m *Manager) flash(e *entry) {
	path := m.doc.Path(e.el)
	d := m.opts.FlashDuration
	m.emit(Op{Kind: OpScroll, Path: path})
	m.emit(Op{Kind: OpPulse, Path: path, DurationMS: d.Milliseconds()})

	if e.flash != nil {
		e.flash.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d, func() {
		m.lock()
		defer m.unlock()
		if e.flash != t {
			return
		}
		e.flash = nil
		if _, live := m.byEl[e.el]; live {
			m.emit(Op{Kind: OpUnpulse, Path: m.doc.Path(e.el)})
		}
	})
	e.flash = t
}

// Flashing reports whether el has an active pulse.
func (m *Manager) Flashing(el *html.Node) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byEl[el]
	return ok && e.flash != nil
}

// Hover shows the tooltip for el or its nearest highlighted ancestor. It
// returns nil when neither is highlighted.
func (m *Manager) Hover(el *html.Node) *Tooltip {
	m.lock()
	defer m.unlock()

	var e *entry
	for cur := el; cur != nil; cur = cur.Parent {
		if found, ok := m.byEl[cur]; ok {
			e = found
			break
		}
	}
	if e == nil || !m.doc.Contains(e.el) {
		if m.hovered != nil {
			m.scheduleHide()
		}
		return nil
	}

	m.cancelHide()
	m.hovered = e

	tip := &Tooltip{Path: m.doc.Path(e.el), Count: len(e.assocs)}
	for _, a := range e.assocs {
		tip.Lines = append(tip.Lines, summarize(a.id, a.rec))
	}
	tip.HTML = renderTooltip(m.policy, tip.Lines)
	m.emit(Op{Kind: OpTooltip, Path: tip.Path, HTML: tip.HTML, Count: tip.Count})
	return tip
}

// Leave starts the delayed tooltip hide.
func (m *Manager) Leave() {
	m.lock()
	defer m.unlock()
	if m.hovered != nil {
		m.scheduleHide()
	}
}

// TooltipVisible reports whether a tooltip is shown.
func (m *Manager) TooltipVisible() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hovered != nil
}

func (m *Manager) scheduleHide() {
	if m.hideTimer != nil {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(m.opts.HideDelay, func() {
		m.lock()
		defer m.unlock()
		if m.hideTimer != t {
			return
		}
		m.hideTooltip()
	})
	m.hideTimer = t
}

func (m *Manager) cancelHide() {
	if m.hideTimer != nil {
		m.hideTimer.Stop()
		m.hideTimer = nil
	}
}

func (m *Manager) hideTooltip() {
	m.cancelHide()
	if m.hovered == nil {
		return
	}
	m.hovered = nil
	m.emit(Op{Kind: OpHideTooltip})
}

// Prune drops entries whose element has left the document. Nothing is
// restored since the element is gone.
func (m *Manager) Prune() int {
	m.lock()
	defer m.unlock()

	var stale []*entry
	for _, e := range m.entries {
		if !m.doc.Contains(e.el) {
			stale = append(stale, e)
		}
	}
	for _, e := range stale {
		m.dropEntry(e, false)
	}
	if len(stale) > 0 {
		debug.Log("highlight", "pruned %d detached entr(ies)", len(stale))
	}
	return len(stale)
}

// Forget drops every entry without touching the document, for when the
// document itself is being replaced. The page is told to restore whatever it
// has styled.
func (m *Manager) Forget() {
	m.lock()
	defer m.unlock()
	for len(m.entries) > 0 {
		m.dropEntry(m.entries[0], false)
	}
	m.hideTooltip()
	m.emit(Op{Kind: OpClear})
}

// State returns the highlight state of el.
func (m *Manager) State(el *html.Node) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.byEl[el]; ok {
		return e.state()
	}
	return StateNone
}

// Owner returns the element that carries highlightID.
func (m *Manager) Owner(highlightID string) (*html.Node, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byID[highlightID]
	if !ok {
		return nil, false
	}
	return e.el, true
}

// Len returns the number of highlighted elements.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// EntryView describes one highlighted element.
type EntryView struct {
	Path         string   `json:"path"`
	Element      string   `json:"element"`
	State        State    `json:"state"`
	HighlightIDs []string `json:"highlight_ids"`
	RecordIDs    []string `json:"record_ids"`
}

// Entries returns the active entries in first-highlight order.
func (m *Manager) Entries() []EntryView {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EntryView, 0, len(m.entries))
	for _, e := range m.entries {
		v := EntryView{
			Path:    m.doc.Path(e.el),
			Element: dom.Describe(e.el),
			State:   e.state(),
		}
		for _, a := range e.assocs {
			v.HighlightIDs = append(v.HighlightIDs, a.id)
			v.RecordIDs = append(v.RecordIDs, a.rec.ID)
		}
		out = append(out, v)
	}
	return out
}

// SyncTo sends s the complete highlight state, a clear followed by the style
// op of every entry, for a page whose view may have diverged.
func (m *Manager) SyncTo(s Sink) {
	m.mu.Lock()
	ops := make([]Op, 0, len(m.entries)+1)
	ops = append(ops, Op{Kind: OpClear})
	for _, e := range m.entries {
		ops = append(ops, m.stateOp(e))
	}
	m.mu.Unlock()
	for _, op := range ops {
		s.Emit(op)
	}
}

// Sync re-emits the style op of every entry, for a page that reconnected.
func (m *Manager) Sync() {
	m.lock()
	defer m.unlock()
	for _, e := range m.entries {
		m.emitState(e)
	}
}
