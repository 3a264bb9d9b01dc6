package identify

import (
	"regexp"
	"sort"
	"strings"

	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
)

// quoted matches a single-line string literal in any of the three quote styles.
const quoted = `\s*(?:"([^"\n]+)"|'([^'\n]+)'|` + "`([^`\\n]+)`" + `)`

type lookupKind int

const (
	lookupID lookupKind = iota
	lookupSelector
	lookupSelectorFirst
	lookupClass
	lookupTag
	lookupXPath
)

type lookupPattern struct {
	kind lookupKind
	re   *regexp.Regexp
}

var lookupPatterns = []lookupPattern{
	{lookupID, regexp.MustCompile(`getElementById\(` + quoted)},
	{lookupSelector, regexp.MustCompile(`querySelectorAll\(` + quoted)},
	{lookupSelectorFirst, regexp.MustCompile(`querySelector\(` + quoted)},
	{lookupClass, regexp.MustCompile(`getElementsByClassName\(` + quoted)},
	{lookupTag, regexp.MustCompile(`getElementsByTagName\(` + quoted)},
	{lookupSelector, regexp.MustCompile(`(?:^|[^\w$.])(?:\$|jQuery)\(` + quoted)},
	{lookupXPath, regexp.MustCompile(`\bevaluate\(` + quoted)},
}

// Lookup is a selector literal discovered in error text.
type Lookup struct {
	Kind  string
	Value string
	pos   int
	kind  lookupKind
}

var kindNames = map[lookupKind]string{
	lookupID:            "id",
	lookupSelector:      "selector",
	lookupSelectorFirst: "selector",
	lookupClass:         "class",
	lookupTag:           "tag",
	lookupXPath:         "xpath",
}

// FindLookups returns the lookup-call literals in text, in order of
// appearance.
func FindLookups(text string) []Lookup {
	var found []Lookup
	for _, p := range lookupPatterns {
		for _, m := range p.re.FindAllStringSubmatchIndex(text, -1) {
			value := literal(text, m)
			if value == "" {
				continue
			}
			found = append(found, Lookup{
				Kind:  kindNames[p.kind],
				Value: value,
				pos:   m[0],
				kind:  p.kind,
			})
		}
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].pos < found[j].pos })
	return found
}

// literal returns the first non-empty quoted group of a submatch index.
func literal(text string, m []int) string {
	for g := 1; g*2+1 < len(m); g++ {
		if m[g*2] >= 0 {
			return strings.TrimSpace(text[m[g*2]:m[g*2+1]])
		}
	}
	return ""
}

// SelectorScan re-executes lookup-call literals found in the error text
// against the live document.
func SelectorScan(in Input) []*html.Node {
	var out []*html.Node
	for _, l := range FindLookups(in.Text) {
		out = append(out, execute(in.Doc, l)...)
	}
	return out
}

func execute(doc *dom.Document, l Lookup) []*html.Node {
	switch l.kind {
	case lookupID:
		if n := doc.ByID(l.Value); n != nil {
			return []*html.Node{n}
		}
	case lookupSelectorFirst:
		if n := doc.Query(l.Value); n != nil {
			return []*html.Node{n}
		}
	case lookupSelector:
		return doc.QueryAll(l.Value)
	case lookupClass:
		return doc.ByClassName(l.Value)
	case lookupTag:
		return doc.ByTagName(l.Value)
	case lookupXPath:
		nodes, err := doc.XPath(l.Value)
		if err != nil {
			debug.Log("identify", "skipping xpath %q: %v", l.Value, err)
			return nil
		}
		return nodes
	}
	return nil
}

var tokenPattern = regexp.MustCompile(`["'` + "`" + `]([#.][A-Za-z_][\w-]*)["'` + "`" + `]`)

// LiteralScan resolves quoted #identifier and .classname tokens in the error
// text.
func LiteralScan(in Input) []*html.Node {
	var out []*html.Node
	for _, m := range tokenPattern.FindAllStringSubmatch(in.Text, -1) {
		token := m[1]
		name := token[1:]
		if token[0] == '#' {
			if n := in.Doc.ByID(name); n != nil {
				out = append(out, n)
			}
			continue
		}
		out = append(out, in.Doc.ByClassName(name)...)
	}
	return out
}
