// Package identify finds the page elements most plausibly involved in an
// error.
//
// Identification is a best-effort, ordered chain of independent heuristics.
// Each heuristic returns a possibly-empty candidate set; the Identifier unions
// them in chain order, drops duplicates and detached nodes, and never fails.
package identify

import (
	"golang.org/x/net/html"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
	"github.com/standardbeagle/errlens/internal/stack"
)

// Input is everything a heuristic may inspect.
type Input struct {
	Doc       *dom.Document
	Listeners *dom.ListenerRegistry

	// Target is the element the failing event was dispatched to.
	Target *html.Node
	// Frames holds raw frames followed by resolved frames, when available.
	Frames []stack.Frame
	// Text is the message and raw stack text.
	Text string
}

// InputFor builds the heuristic input for a record.
func InputFor(doc *dom.Document, listeners *dom.ListenerRegistry, rec *capture.Record) Input {
	frames := append([]stack.Frame(nil), rec.Frames...)
	frames = append(frames, rec.ResolvedFrames()...)
	return Input{
		Doc:       doc,
		Listeners: listeners,
		Target:    rec.Target,
		Frames:    frames,
		Text:      rec.Message + "\n" + rec.Stack,
	}
}

// Heuristic is one step of the identification chain.
type Heuristic struct {
	Name string
	// Fallback heuristics only run when every earlier heuristic found nothing.
	Fallback bool
	Find     func(Input) []*html.Node
}

// Candidate is an identified element and the heuristic that found it.
type Candidate struct {
	Element *html.Node
	Via     string
}

// DefaultChain returns the heuristics in priority order.
func DefaultChain() []Heuristic {
	return []Heuristic{
		{Name: "target", Find: DirectTarget},
		{Name: "listener", Find: ListenerMatch},
		{Name: "selector", Find: SelectorScan},
		{Name: "literal", Fallback: true, Find: LiteralScan},
	}
}

// Identifier runs a heuristic chain against one document.
type Identifier struct {
	doc       *dom.Document
	listeners *dom.ListenerRegistry
	chain     []Heuristic
}

// New creates an identifier using the default chain.
func New(doc *dom.Document, listeners *dom.ListenerRegistry) *Identifier {
	return NewWithChain(doc, listeners, DefaultChain())
}

// NewWithChain creates an identifier with a custom chain.
func NewWithChain(doc *dom.Document, listeners *dom.ListenerRegistry, chain []Heuristic) *Identifier {
	return &Identifier{doc: doc, listeners: listeners, chain: chain}
}

// Identify returns the candidate elements for rec.
func (id *Identifier) Identify(rec *capture.Record) []Candidate {
	return id.Run(InputFor(id.doc, id.listeners, rec))
}

// Run applies the chain to in. Results are in heuristic order, then discovery
// order; every returned element was attached at the time of the check.
func (id *Identifier) Run(in Input) []Candidate {
	var out []Candidate
	seen := make(map[*html.Node]bool)

	for _, h := range id.chain {
		if h.Fallback && len(out) > 0 {
			continue
		}
		for _, n := range safeFind(h, in) {
			if n == nil || n.Type != html.ElementNode || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, Candidate{Element: n, Via: h.Name})
		}
	}

	// Attachment is checked last so nothing removed mid-chain slips through.
	valid := out[:0]
	for _, c := range out {
		if in.Doc.Contains(c.Element) {
			valid = append(valid, c)
		}
	}
	debug.Log("identify", "%d candidate(s)", len(valid))
	return valid
}

func safeFind(h Heuristic, in Input) (nodes []*html.Node) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error("identify", "heuristic %s panicked: %v", h.Name, r)
			nodes = nil
		}
	}()
	return h.Find(in)
}

// Elements strips the heuristic names from candidates.
func Elements(cands []Candidate) []*html.Node {
	out := make([]*html.Node, len(cands))
	for i, c := range cands {
		out[i] = c.Element
	}
	return out
}

// DirectTarget returns the event target when it is still attached.
func DirectTarget(in Input) []*html.Node {
	if in.Target == nil || !in.Doc.Contains(in.Target) {
		return nil
	}
	return []*html.Node{in.Target}
}

// ListenerMatch returns elements whose registered listener function appears
// in the stack.
func ListenerMatch(in Input) []*html.Node {
	if in.Listeners == nil {
		return nil
	}
	var out []*html.Node
	for _, name := range FunctionNames(in.Frames) {
		out = append(out, in.Listeners.Lookup(name)...)
	}
	return out
}

// FunctionNames returns the normalised function names found in frames, in
// order of first appearance.
func FunctionNames(frames []stack.Frame) []string {
	var names []string
	seen := make(map[string]bool)
	for _, f := range frames {
		name := dom.NormalizeFunctionName(f.Function)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}
