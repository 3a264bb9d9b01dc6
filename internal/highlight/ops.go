package highlight

import "sync"

// OpKind names a visual change to apply in the page.
type OpKind string

const (
	// OpStyle replaces the element's inline style and highlight state.
	OpStyle OpKind = "style"
	// OpScroll scrolls the element into view.
	OpScroll OpKind = "scroll"
	// OpPulse starts the transient flash emphasis.
	OpPulse OpKind = "pulse"
	// OpUnpulse ends the flash emphasis.
	OpUnpulse OpKind = "unpulse"
	// OpTooltip shows the tooltip next to the element.
	OpTooltip OpKind = "tooltip"
	// OpHideTooltip hides the tooltip.
	OpHideTooltip OpKind = "hide-tooltip"
	// OpClear restores every element the page has styled.
	OpClear OpKind = "clear"
)

// Op is one visual change, addressed by an element path.
type Op struct {
	Kind OpKind `json:"op"`
	Path string `json:"path,omitempty"`
	// Style is the complete inline style after the change. Empty with
	// RemoveStyle set means the attribute is removed.
	Style       string `json:"style,omitempty"`
	RemoveStyle bool   `json:"remove_style,omitempty"`
	State       State  `json:"state,omitempty"`
	Count       int    `json:"count,omitempty"`
	HTML        string `json:"html,omitempty"`
	DurationMS  int64  `json:"duration_ms,omitempty"`
}

// Sink receives ops in emission order.
type Sink interface {
	Emit(Op)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Op)

// Emit calls f.
func (f SinkFunc) Emit(op Op) { f(op) }

// Recorder is a Sink that keeps every op.
type Recorder struct {
	mu  sync.Mutex
	ops []Op
}

// Emit records op.
func (r *Recorder) Emit(op Op) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = append(r.ops, op)
}

// Ops returns the recorded ops.
func (r *Recorder) Ops() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Op(nil), r.ops...)
}

// Reset forgets recorded ops.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ops = nil
}

type nopSink struct{}

func (nopSink) Emit(Op) {}
