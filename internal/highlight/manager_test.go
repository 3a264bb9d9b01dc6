package highlight

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/dom"
)

const page = `<html><body>
<div id="card" style="color: red;outline:1px solid blue">
  <button id="save" class="btn">Save</button>
</div>
<span id="plain">x</span>
</body></html>`

func setup(t *testing.T) (*dom.Document, *Manager, *Recorder) {
	t.Helper()
	doc, err := dom.ParseString(page, "http://localhost:3000/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rec := &Recorder{}
	opts := DefaultOptions()
	opts.FlashDuration = 30 * time.Millisecond
	opts.HideDelay = 30 * time.Millisecond
	return doc, NewManager(doc, rec, opts), rec
}

func record(t *testing.T, msg string) *capture.Record {
	t.Helper()
	c := capture.NewCapturer()
	rec, ok := c.Capture(capture.RawSignal{Kind: capture.KindRuntime, Message: msg, File: "http://localhost:3000/app.js", Line: 1, Column: 1})
	if !ok {
		t.Fatal("capture rejected")
	}
	return rec
}

func styleAttr(doc *dom.Document, n *html.Node) (string, bool) {
	return doc.Attr(n, "style")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met")
}

func lastOp(r *Recorder) OpKind {
	ops := r.Ops()
	if len(ops) == 0 {
		return ""
	}
	return ops[len(ops)-1].Kind
}

func TestLifecycleRestoresExactly(t *testing.T) {
	doc, m, _ := setup(t)
	card := doc.ByID("card")
	before, _ := styleAttr(doc, card)

	a, b := record(t, "a failed"), record(t, "b failed")

	idA := m.Attach(card, a)
	if idA == "" {
		t.Fatal("Attach returned empty id")
	}
	if got := m.State(card); got != StateSingle {
		t.Fatalf("state = %s, want single", got)
	}
	style, _ := styleAttr(doc, card)
	if !strings.Contains(style, "color: red") || !strings.Contains(style, "#ff3b30") {
		t.Errorf("single style = %q", style)
	}
	if v, _ := doc.Attr(card, StateAttr); v != "single" {
		t.Errorf("%s = %q", StateAttr, v)
	}

	idB := m.Attach(card, b)
	if m.State(card) != StateMultiple {
		t.Fatalf("state = %s, want multiple", m.State(card))
	}
	style, _ = styleAttr(doc, card)
	if !strings.Contains(style, "double") || !strings.Contains(style, "box-shadow") {
		t.Errorf("multiple style = %q", style)
	}

	if !m.Detach(card, idB) {
		t.Fatal("Detach(idB) = false")
	}
	if m.State(card) != StateSingle {
		t.Fatalf("state = %s, want single", m.State(card))
	}
	style, _ = styleAttr(doc, card)
	if strings.Contains(style, "box-shadow") {
		t.Errorf("box-shadow left after returning to single: %q", style)
	}

	m.Detach(card, idA)
	if m.State(card) != StateNone {
		t.Fatalf("state = %s, want none", m.State(card))
	}
	after, _ := styleAttr(doc, card)
	if after != before {
		t.Errorf("style = %q, want original %q", after, before)
	}
	if _, ok := doc.Attr(card, StateAttr); ok {
		t.Error("state attribute left behind")
	}
	if len(a.Links()) != 0 || len(b.Links()) != 0 {
		t.Error("record links left behind")
	}
}

func TestRestoreRemovesAddedStyleAttribute(t *testing.T) {
	doc, m, _ := setup(t)
	plain := doc.ByID("plain")

	m.Attach(plain, record(t, "boom"))
	if _, ok := styleAttr(doc, plain); !ok {
		t.Fatal("expected style attribute while highlighted")
	}
	m.DetachAll()
	if _, ok := styleAttr(doc, plain); ok {
		t.Error("style attribute should be removed on restore")
	}
}

func TestAttachSameRecordTwice(t *testing.T) {
	doc, m, _ := setup(t)
	save := doc.ByID("save")
	rec := record(t, "boom")

	first := m.Attach(save, rec)
	second := m.Attach(save, rec)
	if first != second {
		t.Errorf("ids differ: %s, %s", first, second)
	}
	if m.State(save) != StateSingle {
		t.Errorf("state = %s, want single", m.State(save))
	}
	if len(rec.Links()) != 1 {
		t.Errorf("links = %d, want 1", len(rec.Links()))
	}
}

func TestAttachDetachedIsNoop(t *testing.T) {
	doc, m, sink := setup(t)
	save := doc.ByID("save")
	doc.Remove(save)

	rec := record(t, "boom")
	if id := m.Attach(save, rec); id != "" {
		t.Errorf("Attach on detached element returned %q", id)
	}
	if m.Len() != 0 || len(rec.Links()) != 0 || len(sink.Ops()) != 0 {
		t.Error("detached attach must not change state or emit ops")
	}
	if _, ok := doc.Attr(save, "style"); ok {
		t.Error("detached element was styled")
	}
}

func TestDetachWithoutIDRemovesAll(t *testing.T) {
	doc, m, _ := setup(t)
	save := doc.ByID("save")
	m.Attach(save, record(t, "a"))
	m.Attach(save, record(t, "b"))

	if !m.Detach(save, "") {
		t.Fatal("Detach() = false")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d, want 0", m.Len())
	}
}

func TestDetachRecordAcrossElements(t *testing.T) {
	doc, m, _ := setup(t)
	rec := record(t, "boom")
	other := record(t, "other")
	m.Attach(doc.ByID("save"), rec)
	m.Attach(doc.ByID("plain"), rec)
	m.Attach(doc.ByID("plain"), other)

	if n := m.DetachRecord(rec); n != 2 {
		t.Errorf("DetachRecord() = %d, want 2", n)
	}
	if m.State(doc.ByID("plain")) != StateSingle {
		t.Errorf("plain state = %s, want single", m.State(doc.ByID("plain")))
	}
	if m.State(doc.ByID("save")) != StateNone {
		t.Errorf("save state = %s, want none", m.State(doc.ByID("save")))
	}
}

func TestSetStyleRerendersKeepingAssociations(t *testing.T) {
	doc, m, _ := setup(t)
	save := doc.ByID("save")
	m.Attach(save, record(t, "boom"))

	got := m.SetStyle(Style{Color: "rebeccapurple", BorderStyle: "dashed", BorderWidth: 4, Fill: false})
	if got.Color != "rebeccapurple" {
		t.Errorf("SetStyle() = %+v", got)
	}
	style, _ := styleAttr(doc, save)
	if !strings.Contains(style, "4px dashed rebeccapurple") {
		t.Errorf("style = %q", style)
	}
	if strings.Contains(style, "background-color") {
		t.Errorf("fill should be off: %q", style)
	}
	if m.State(save) != StateSingle || len(m.Entries()[0].HighlightIDs) != 1 {
		t.Error("associations lost on restyle")
	}

	m.DetachAll()
	if _, ok := styleAttr(doc, save); ok {
		t.Error("style not restored after restyle")
	}
}

func TestStyleNormalize(t *testing.T) {
	s := Style{Color: "red;}", BorderStyle: "wavy", BorderWidth: 99, FillOpacity: -5}.Normalize()
	def := DefaultStyle()
	if s.Color != def.Color || s.BorderStyle != def.BorderStyle || s.BorderWidth != 10 || s.FillOpacity != 0 {
		t.Errorf("Normalize() = %+v", s)
	}
}

func TestFlash(t *testing.T) {
	doc, m, sink := setup(t)
	save := doc.ByID("save")

	if m.Flash(save) {
		t.Fatal("Flash without entry should be a no-op")
	}

	id := m.Attach(save, record(t, "boom"))
	sink.Reset()
	if err := m.FlashID(id); err != nil {
		t.Fatalf("FlashID: %v", err)
	}
	ops := sink.Ops()
	if len(ops) != 2 || ops[0].Kind != OpScroll || ops[1].Kind != OpPulse {
		t.Fatalf("ops = %+v", ops)
	}
	if !m.Flashing(save) {
		t.Error("expected active pulse")
	}

	waitFor(t, func() bool { return lastOp(sink) == OpUnpulse })
	if m.Flashing(save) {
		t.Error("pulse still active after unpulse")
	}

	if err := m.FlashID("nope"); err != ErrNotFound {
		t.Errorf("FlashID(nope) = %v, want ErrNotFound", err)
	}
}

func TestHoverTooltip(t *testing.T) {
	doc, m, sink := setup(t)
	card := doc.ByID("card")
	save := doc.ByID("save")

	a := record(t, `<img src=x onerror=alert(1)> failed`)
	m.Attach(card, a)
	m.Attach(card, record(t, "second"))

	tip := m.Hover(save)
	if tip == nil {
		t.Fatal("expected tooltip from highlighted ancestor")
	}
	if tip.Count != 2 || len(tip.Lines) != 2 {
		t.Errorf("tooltip = %+v", tip)
	}
	if tip.Lines[0].Location != "http://localhost:3000/app.js:1:1" {
		t.Errorf("location = %q", tip.Lines[0].Location)
	}
	if strings.Contains(tip.HTML, "<img") {
		t.Errorf("tooltip not sanitised: %s", tip.HTML)
	}
	if !strings.Contains(tip.HTML, "2 errors") {
		t.Errorf("tooltip html = %s", tip.HTML)
	}

	m.Leave()
	// Moving back in before the delay keeps it visible.
	m.Hover(card)
	time.Sleep(60 * time.Millisecond)
	if !m.TooltipVisible() {
		t.Fatal("tooltip hidden despite re-entry")
	}

	m.Leave()
	waitFor(t, func() bool { return lastOp(sink) == OpHideTooltip })
	if m.TooltipVisible() {
		t.Error("tooltip still visible after hide")
	}

	if tip := m.Hover(doc.ByID("plain")); tip != nil {
		t.Errorf("Hover(plain) = %+v, want nil", tip)
	}
}

func TestPrune(t *testing.T) {
	doc, m, _ := setup(t)
	save := doc.ByID("save")
	rec := record(t, "boom")
	m.Attach(save, rec)
	m.Attach(doc.ByID("plain"), rec)

	doc.Remove(save)
	if n := m.Prune(); n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
	if m.Len() != 1 || len(rec.Links()) != 1 {
		t.Errorf("Len() = %d links = %d", m.Len(), len(rec.Links()))
	}
}

func TestOpsAddressElementsByPath(t *testing.T) {
	doc, m, sink := setup(t)
	save := doc.ByID("save")
	m.Attach(save, record(t, "boom"))

	ops := sink.Ops()
	if len(ops) != 1 || ops[0].Kind != OpStyle {
		t.Fatalf("ops = %+v", ops)
	}
	if doc.Resolve(ops[0].Path) != save {
		t.Errorf("path %q does not resolve to the element", ops[0].Path)
	}
	if ops[0].State != StateSingle || ops[0].Count != 1 {
		t.Errorf("op = %+v", ops[0])
	}
}

func TestForgetLeavesDocumentAlone(t *testing.T) {
	doc, m, sink := setup(t)
	save := doc.ByID("save")
	rec := record(t, "boom")
	m.Attach(save, rec)
	styled, _ := styleAttr(doc, save)

	sink.Reset()
	m.Forget()
	if m.Len() != 0 || len(rec.Links()) != 0 {
		t.Error("entries left after Forget")
	}
	if got, _ := styleAttr(doc, save); got != styled {
		t.Errorf("Forget changed the document: %q", got)
	}
	ops := sink.Ops()
	if len(ops) != 1 || ops[0].Kind != OpClear {
		t.Errorf("ops = %+v, want a single clear", ops)
	}
}

func TestSyncToSendsFullState(t *testing.T) {
	doc, m, sink := setup(t)
	save, card := doc.ByID("save"), doc.ByID("card")
	m.Attach(save, record(t, "a"))
	m.Attach(card, record(t, "b"))
	m.Attach(card, record(t, "c"))
	sink.Reset()

	page := &Recorder{}
	m.SyncTo(page)

	if len(sink.Ops()) != 0 {
		t.Errorf("SyncTo emitted to the manager's sink: %+v", sink.Ops())
	}
	ops := page.Ops()
	if len(ops) != 3 || ops[0].Kind != OpClear {
		t.Fatalf("ops = %+v, want a clear then two styles", ops)
	}
	counts := map[*html.Node]int{}
	for _, op := range ops[1:] {
		if op.Kind != OpStyle {
			t.Fatalf("op = %+v, want style", op)
		}
		got, _ := styleAttr(doc, doc.Resolve(op.Path))
		if op.Style != got {
			t.Errorf("op style %q, document has %q", op.Style, got)
		}
		counts[doc.Resolve(op.Path)] = op.Count
	}
	if counts[save] != 1 || counts[card] != 2 {
		t.Errorf("counts = save:%d card:%d", counts[save], counts[card])
	}
}
