package dom

import (
	"strings"
	"testing"
)

const testPage = `<html><head><title>t</title></head><body>
<div id="app" class="shell main">
  <form id="signup"><input name="email"><button id="save" class="btn primary">Save</button></form>
  <ul class="list"><li>a</li><li class="item">b</li></ul>
</div>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(testPage, "http://localhost:3000/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestLookups(t *testing.T) {
	doc := mustParse(t)

	if n := doc.ByID("save"); n == nil || n.Data != "button" {
		t.Fatalf("ByID(save) = %v", n)
	}
	if n := doc.ByID("missing"); n != nil {
		t.Errorf("ByID(missing) = %v, want nil", n)
	}
	if got := len(doc.ByClassName("btn primary")); got != 1 {
		t.Errorf("ByClassName(btn primary) = %d matches, want 1", got)
	}
	if got := len(doc.ByTagName("LI")); got != 2 {
		t.Errorf("ByTagName(LI) = %d matches, want 2", got)
	}
	if got := len(doc.QueryAll("ul.list > li")); got != 2 {
		t.Errorf("QueryAll = %d matches, want 2", got)
	}
	if got := doc.QueryAll("div[[["); len(got) != 0 {
		t.Errorf("invalid selector matched %d nodes", len(got))
	}
}

func TestXPath(t *testing.T) {
	doc := mustParse(t)

	nodes, err := doc.XPath(`//li[@class="item"]`)
	if err != nil {
		t.Fatalf("XPath: %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("expected 1 node, got %d", len(nodes))
	}

	if _, err := doc.XPath(`//li[`); err == nil {
		t.Error("expected error for invalid xpath")
	}
}

func TestContainsAfterRemoveAndReplace(t *testing.T) {
	doc := mustParse(t)
	btn := doc.ByID("save")

	if !doc.Contains(btn) {
		t.Fatal("expected button to be attached")
	}

	doc.Remove(btn)
	if doc.Contains(btn) {
		t.Error("expected removed button to be detached")
	}
	if doc.SetAttr(btn, "style", "color: red") {
		t.Error("SetAttr on a detached element should report false")
	}

	ul := doc.Query("ul")
	if err := doc.Replace(strings.NewReader(testPage), ""); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if doc.Contains(ul) {
		t.Error("nodes from the previous tree must be detached after Replace")
	}
	if doc.URL() != "http://localhost:3000/" {
		t.Errorf("URL changed on Replace with empty url: %q", doc.URL())
	}
}

func TestPathRoundTrip(t *testing.T) {
	doc := mustParse(t)

	for _, sel := range []string{"#save", "li.item", "input", "#app"} {
		n := doc.Query(sel)
		path := doc.Path(n)
		if path == "" {
			t.Fatalf("empty path for %s", sel)
		}
		if got := doc.Resolve(path); got != n {
			t.Errorf("Resolve(Path(%s)) = %v (path %q)", sel, got, path)
		}
	}

	detached := doc.ByID("save")
	doc.Remove(detached)
	if p := doc.Path(detached); p != "" {
		t.Errorf("Path of detached node = %q, want empty", p)
	}
}

func TestUpdateStyle(t *testing.T) {
	doc := mustParse(t)
	btn := doc.ByID("save")

	ok := doc.UpdateStyle(btn, func(d *Declarations) {
		d.Set("outline", "2px solid red")
	})
	if !ok {
		t.Fatal("UpdateStyle failed")
	}
	if v, _ := doc.Attr(btn, "style"); v != "outline: 2px solid red;" {
		t.Errorf("style = %q", v)
	}

	doc.UpdateStyle(btn, func(d *Declarations) { d.Remove("outline") })
	if _, ok := doc.Attr(btn, "style"); ok {
		t.Error("expected style attribute to be removed when empty")
	}
}

func TestDescribe(t *testing.T) {
	doc := mustParse(t)
	if got := Describe(doc.ByID("save")); got != "button#save.btn.primary" {
		t.Errorf("Describe() = %q", got)
	}
	if got := Describe(nil); got != "" {
		t.Errorf("Describe(nil) = %q", got)
	}
}

func TestParseStyle(t *testing.T) {
	decls := ParseStyle(`color: red; background: url("a;b.png") no-repeat; content: 'x;y' ;; bad; MARGIN:0`)

	tests := []struct {
		prop string
		want string
	}{
		{"color", "red"},
		{"background", `url("a;b.png") no-repeat`},
		{"content", `'x;y'`},
		{"margin", "0"},
	}
	for _, tt := range tests {
		got, ok := decls.Get(tt.prop)
		if !ok || got != tt.want {
			t.Errorf("Get(%q) = %q, %v; want %q", tt.prop, got, ok, tt.want)
		}
	}
	if len(decls) != 4 {
		t.Errorf("expected 4 declarations, got %d: %v", len(decls), decls)
	}
}

func TestDeclarationsSetKeepsOrder(t *testing.T) {
	decls := ParseStyle("a: 1; b: 2")
	decls.Set("a", "3")
	decls.Set("c", "4")
	if got := decls.String(); got != "a: 3; b: 2; c: 4;" {
		t.Errorf("String() = %q", got)
	}
	decls.Remove("b")
	if got := decls.String(); got != "a: 3; c: 4;" {
		t.Errorf("String() after Remove = %q", got)
	}
}

func TestListenerRegistry(t *testing.T) {
	doc := mustParse(t)
	reg := NewListenerRegistry(doc)
	btn := doc.ByID("save")
	form := doc.ByID("signup")

	if !reg.Register(btn, "click", "HTMLButtonElement.onSave") {
		t.Fatal("expected registration")
	}
	if reg.Register(btn, "click", "onSave") {
		t.Error("duplicate registration should be ignored")
	}
	reg.Register(form, "submit", "bound onSave")
	if reg.Register(btn, "click", "<anonymous>") {
		t.Error("anonymous handlers should be ignored")
	}

	got := reg.Lookup("Object.onSave")
	if len(got) != 2 || got[0] != btn || got[1] != form {
		t.Fatalf("Lookup(onSave) = %v", got)
	}

	doc.Remove(form)
	if got := reg.Lookup("onSave"); len(got) != 1 || got[0] != btn {
		t.Errorf("Lookup after removal = %v", got)
	}
	if removed := reg.Prune(); removed != 1 {
		t.Errorf("Prune() removed %d, want 1", removed)
	}

	reg.Unregister(btn, "click", "onSave")
	if reg.Len() != 0 {
		t.Errorf("expected empty registry, got %d", reg.Len())
	}
}

func TestNormalizeFunctionName(t *testing.T) {
	tests := map[string]string{
		"onSave":                         "onSave",
		"HTMLButtonElement.onSave":       "onSave",
		"bound bound handle":             "handle",
		"Object.<anonymous>":             "",
		"Foo.bar [as baz]":               "bar",
		"async loadUser":                 "loadUser",
		"":                               "",
		"<anonymous>":                    "",
		"HTMLDocument.handleGlobalClick": "handleGlobalClick",
	}
	for in, want := range tests {
		if got := NormalizeFunctionName(in); got != want {
			t.Errorf("NormalizeFunctionName(%q) = %q, want %q", in, got, want)
		}
	}
}
