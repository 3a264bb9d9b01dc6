package identify

import (
	"testing"

	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/dom"
	"github.com/standardbeagle/errlens/internal/stack"
)

const page = `<html><body>
<div id="app">
  <form id="signup"><button id="save" class="btn primary">Save</button></form>
  <ul class="list"><li class="item">a</li><li class="item">b</li></ul>
  <span class="badge">new</span>
</div>
</body></html>`

func setup(t *testing.T) (*dom.Document, *dom.ListenerRegistry) {
	t.Helper()
	doc, err := dom.ParseString(page, "http://localhost:3000/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc, dom.NewListenerRegistry(doc)
}

func ids(cands []Candidate) []string {
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = dom.Describe(c.Element)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDirectTarget(t *testing.T) {
	doc, listeners := setup(t)
	save := doc.ByID("save")

	id := New(doc, listeners)
	got := id.Run(Input{Doc: doc, Listeners: listeners, Target: save})
	if len(got) != 1 || got[0].Element != save || got[0].Via != "target" {
		t.Fatalf("Run() = %v", ids(got))
	}

	doc.Remove(save)
	if got := id.Run(Input{Doc: doc, Listeners: listeners, Target: save}); len(got) != 0 {
		t.Errorf("detached target returned: %v", ids(got))
	}
}

func TestListenerMatch(t *testing.T) {
	doc, listeners := setup(t)
	save := doc.ByID("save")
	form := doc.ByID("signup")
	listeners.Register(save, "click", "onSave")
	listeners.Register(form, "submit", "bound submitForm")

	in := Input{
		Doc:       doc,
		Listeners: listeners,
		Frames: []stack.Frame{
			{Function: "validate", File: "app.js", Line: 1, Column: 1},
			{Function: "HTMLButtonElement.onSave", File: "app.js", Line: 2, Column: 1},
			{Function: "submitForm", File: "app.js", Line: 3, Column: 1},
		},
	}
	got := New(doc, listeners).Run(in)
	want := []string{"button#save.btn.primary", "form#signup"}
	if !equal(ids(got), want) {
		t.Errorf("Run() = %v, want %v", ids(got), want)
	}
}

func TestSelectorScan(t *testing.T) {
	doc, listeners := setup(t)

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"by id", `at document.getElementById("save").click`, []string{"button#save.btn.primary"}},
		{"query selector first", `document.querySelector('.item').x`, []string{"li.item"}},
		{"query selector all", "document.querySelectorAll(`ul .item`)", []string{"li.item", "li.item"}},
		{"class name", `getElementsByClassName("badge")`, []string{"span.badge"}},
		{"tag name", `getElementsByTagName('form')`, []string{"form#signup"}},
		{"jquery", `$("#signup button")`, []string{"button#save.btn.primary"}},
		{"jquery long form", `jQuery('span.badge').hide()`, []string{"span.badge"}},
		{"xpath", `document.evaluate("//form[@id='signup']", document)`, []string{"form#signup"}},
		{"bad xpath ignored", `document.evaluate("//li[", document)`, nil},
		{"missing", `getElementById("nope")`, nil},
		{"order of appearance", `getElementsByClassName("badge") then getElementById("save")`,
			[]string{"span.badge", "button#save.btn.primary"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(doc, listeners).Run(Input{Doc: doc, Listeners: listeners, Text: tt.text})
			if !equal(ids(got), tt.want) {
				t.Errorf("Run() = %v, want %v", ids(got), tt.want)
			}
			for _, c := range got {
				if c.Via != "selector" {
					t.Errorf("Via = %q, want selector", c.Via)
				}
			}
		})
	}
}

func TestLiteralFallbackOnlyWhenEmpty(t *testing.T) {
	doc, listeners := setup(t)
	id := New(doc, listeners)

	got := id.Run(Input{Doc: doc, Listeners: listeners, Text: `Cannot read properties of null (reading "#save")`})
	if len(got) != 1 || got[0].Via != "literal" {
		t.Fatalf("Run() = %v", ids(got))
	}

	got = id.Run(Input{
		Doc:       doc,
		Listeners: listeners,
		Target:    doc.ByID("signup"),
		Text:      `failed on '.badge'`,
	})
	if !equal(ids(got), []string{"form#signup"}) {
		t.Errorf("fallback ran despite earlier candidates: %v", ids(got))
	}
}

func TestUnionDedupAndOrder(t *testing.T) {
	doc, listeners := setup(t)
	save := doc.ByID("save")
	listeners.Register(save, "click", "onSave")

	in := Input{
		Doc:       doc,
		Listeners: listeners,
		Target:    save,
		Frames:    []stack.Frame{{Function: "onSave", File: "app.js", Line: 1, Column: 1}},
		Text:      `getElementById("save") getElementsByClassName("badge")`,
	}
	got := New(doc, listeners).Run(in)
	if !equal(ids(got), []string{"button#save.btn.primary", "span.badge"}) {
		t.Fatalf("Run() = %v", ids(got))
	}
	if got[0].Via != "target" || got[1].Via != "selector" {
		t.Errorf("Via = %q, %q", got[0].Via, got[1].Via)
	}
}

func TestEmptyIsValid(t *testing.T) {
	doc, listeners := setup(t)
	got := New(doc, listeners).Run(Input{Doc: doc, Listeners: listeners, Text: "x is not defined"})
	if len(got) != 0 {
		t.Errorf("Run() = %v, want none", ids(got))
	}
}

func TestPanickingHeuristicIsIsolated(t *testing.T) {
	doc, listeners := setup(t)
	chain := []Heuristic{
		{Name: "boom", Find: func(Input) []*html.Node { panic("boom") }},
		{Name: "target", Find: DirectTarget},
	}
	got := NewWithChain(doc, listeners, chain).Run(Input{Doc: doc, Target: doc.ByID("save")})
	if len(got) != 1 {
		t.Errorf("Run() = %v, want the target", ids(got))
	}
}

func TestDetachedDuringChainIsDropped(t *testing.T) {
	doc, listeners := setup(t)
	badge := doc.Query(".badge")
	chain := []Heuristic{
		{Name: "first", Find: func(Input) []*html.Node { return []*html.Node{badge} }},
		{Name: "remover", Find: func(in Input) []*html.Node {
			in.Doc.Remove(badge)
			return nil
		}},
	}
	if got := NewWithChain(doc, listeners, chain).Run(Input{Doc: doc}); len(got) != 0 {
		t.Errorf("Run() = %v, want none", ids(got))
	}
}

func TestIdentifyRecord(t *testing.T) {
	doc, listeners := setup(t)
	listeners.Register(doc.ByID("save"), "click", "onSave")

	c := capture.NewCapturer()
	rec, ok := c.Capture(capture.RawSignal{
		Kind:    capture.KindRuntime,
		Message: "boom",
		Stack:   "TypeError: boom\n    at onSave (http://localhost:3000/app.js:4:9)",
	})
	if !ok {
		t.Fatal("capture rejected")
	}
	got := New(doc, listeners).Identify(rec)
	if !equal(ids(got), []string{"button#save.btn.primary"}) {
		t.Errorf("Identify() = %v", ids(got))
	}
}

func TestFindLookups(t *testing.T) {
	got := FindLookups(`a.querySelector("#x"); $('.y'); b.getElementById('z')`)
	if len(got) != 3 {
		t.Fatalf("FindLookups() = %+v", got)
	}
	want := []struct{ kind, value string }{{"selector", "#x"}, {"selector", ".y"}, {"id", "z"}}
	for i, w := range want {
		if got[i].Kind != w.kind || got[i].Value != w.value {
			t.Errorf("lookup %d = %+v, want %+v", i, got[i], w)
		}
	}
}
