// Package lens wires capture, resolution, identification and highlighting
// into one pipeline driven by a single event queue.
//
// Every mutation of pipeline state runs as a task on the queue goroutine, in
// submission order. Source-map resolution is the only blocking step; it runs
// on its own goroutine per record and posts its result back as a task, so a
// slow fetch never delays capture of later errors. Results that arrive after
// a Reset or navigation are discarded.
package lens

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/errlens/internal/capture"
	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/dom"
	"github.com/standardbeagle/errlens/internal/highlight"
	"github.com/standardbeagle/errlens/internal/identify"
	"github.com/standardbeagle/errlens/internal/sourcemap"
	"github.com/standardbeagle/errlens/internal/stack"
)

var (
	// ErrClosed is returned for commands issued after Close.
	ErrClosed = errors.New("engine closed")
	// ErrNotFound is returned when a record, highlight or element is unknown.
	ErrNotFound = errors.New("not found")
)

// Config configures an Engine.
type Config struct {
	Sourcemap sourcemap.Config
	Highlight highlight.Options
	// IgnorePatterns suppress matching messages.
	IgnorePatterns []string
	// Disabled starts with capture turned off.
	Disabled bool
	// DomainBlocked starts with the page's domain gated off. See
	// SetDomainAllowed.
	DomainBlocked bool
	// QueueSize bounds the event queue.
	// Default: 256
	QueueSize int
	// Sink receives highlight ops. Default: discarded.
	Sink highlight.Sink
}

// Detected is the notification sent for every accepted capture.
type Detected struct {
	Record    capture.View `json:"record"`
	Duplicate bool         `json:"duplicate"`
	Elements  int          `json:"elements"`
}

// ListenerRef is a listener registration addressed by element path.
type ListenerRef struct {
	Path     string `json:"path"`
	Event    string `json:"event"`
	Function string `json:"function"`
}

// Snapshot is a serialised copy of the page.
type Snapshot struct {
	URL       string        `json:"url"`
	HTML      string        `json:"html"`
	Listeners []ListenerRef `json:"listeners,omitempty"`
}

// Engine runs the attribution pipeline for one page.
type Engine struct {
	doc        *dom.Document
	listeners  *dom.ListenerRegistry
	capturer   *capture.Capturer
	registry   *capture.Registry
	resolver   *sourcemap.Resolver
	identifier *identify.Identifier
	highlights *highlight.Manager
	metrics    *Metrics
	console    capture.Console

	ctx    context.Context
	cancel context.CancelFunc
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	loop   sync.WaitGroup

	pending    sync.WaitGroup
	generation atomic.Uint64

	// Owned by the queue goroutine.
	userEnabled   bool
	domainAllowed bool
	callSite      string

	subMu  sync.RWMutex
	subs   []subscriber
	nextID int
}

type subscriber struct {
	id int
	fn func(Detected)
}

// New creates and starts an engine for doc.
func New(doc *dom.Document, cfg Config) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())

	e := &Engine{
		doc:           doc,
		listeners:     dom.NewListenerRegistry(doc),
		capturer:      capture.NewCapturer(),
		registry:      capture.NewRegistry(),
		resolver:      sourcemap.NewResolver(cfg.Sourcemap),
		highlights:    highlight.NewManager(doc, cfg.Sink, cfg.Highlight),
		ctx:           ctx,
		cancel:        cancel,
		tasks:         make(chan func(), cfg.QueueSize),
		done:          make(chan struct{}),
		userEnabled:   !cfg.Disabled,
		domainAllowed: !cfg.DomainBlocked,
	}
	e.identifier = identify.New(doc, e.listeners)
	e.metrics = newMetrics(e.registry, e.highlights, e.resolver)
	e.console = capture.InterceptConsole(
		capture.ConsoleFunc(func(args ...any) {
			debug.Log("page", "console.error: %s", strings.TrimSpace(fmt.Sprintln(args...)))
		}),
		e.capturer,
		func() string { return e.callSite },
	)

	e.capturer.SetIgnorePatterns(cfg.IgnorePatterns)
	e.capturer.SetEnabled(e.userEnabled && e.domainAllowed)
	e.capturer.Subscribe(e.onRecord)

	e.loop.Add(1)
	go e.run()
	return e
}

func (e *Engine) run() {
	defer e.loop.Done()
	for {
		select {
		case fn := <-e.tasks:
			e.safe(fn)
		case <-e.done:
			return
		}
	}
}

func (e *Engine) safe(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			debug.Error("lens", "task panicked: %v", r)
		}
	}()
	fn()
}

// post queues fn. It reports false once the engine is closed.
func (e *Engine) post(fn func()) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.tasks <- fn:
		return true
	case <-e.done:
		return false
	}
}

// call runs fn on the queue and waits for it.
func (e *Engine) call(fn func() error) error {
	result := make(chan error, 1)
	ok := e.post(func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("task panicked: %v", r)
			}
			result <- err
		}()
		err = fn()
	})
	if !ok {
		return ErrClosed
	}
	select {
	case err := <-result:
		return err
	case <-e.done:
		return ErrClosed
	}
}

// Close stops the queue and abandons in-flight resolutions.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.cancel()
		close(e.done)
	})
	e.loop.Wait()
	e.pending.Wait()
	return nil
}

// Drain waits until queued tasks and in-flight resolutions have finished.
func (e *Engine) Drain(ctx context.Context) error {
	noop := func() error { return nil }
	if err := e.call(noop); err != nil {
		return err
	}
	waited := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.call(noop)
}

// Capture submits a raw signal. It never blocks on resolution and reports
// false only when the engine is closed.
func (e *Engine) Capture(sig capture.RawSignal) bool {
	return e.post(func() {
		e.capturer.Capture(sig)
	})
}

// CaptureAt submits a raw signal whose event target is given by element path.
func (e *Engine) CaptureAt(sig capture.RawSignal, targetPath string) bool {
	return e.post(func() {
		if targetPath != "" {
			sig.Target = e.doc.Resolve(targetPath)
		}
		e.capturer.Capture(sig)
	})
}

// Console passes page console error arguments through the intercepted
// console, capturing them as a logged error.
func (e *Engine) Console(args []any, callSite string) bool {
	return e.post(func() {
		e.callSite = callSite
		defer func() { e.callSite = "" }()
		e.console.Error(args...)
	})
}

// onRecord is the capturer consumer. It runs on the queue goroutine.
func (e *Engine) onRecord(rec *capture.Record) error {
	e.metrics.captured.WithLabelValues(string(rec.Kind)).Inc()

	existing, dup := e.registry.Add(rec)
	if dup {
		e.metrics.duplicates.WithLabelValues(string(rec.Kind)).Inc()
		debug.Log("lens", "duplicate %q (count %d)", existing.Message, existing.Count())
		e.notify(Detected{Record: existing.View(), Duplicate: true, Elements: len(existing.Links())})
		return nil
	}

	n := e.highlightRecord(rec)
	debug.Log("lens", "captured %s %q at %s, %d element(s)", rec.Kind, rec.Message, rec.Raw, n)
	e.notify(Detected{Record: rec.View(), Elements: n})
	e.resolveAsync(rec)
	return nil
}

func (e *Engine) highlightRecord(rec *capture.Record) int {
	for _, c := range e.identifier.Identify(rec) {
		if e.highlights.Attach(c.Element, rec) != "" {
			e.metrics.identified.WithLabelValues(c.Via).Inc()
		}
	}
	return len(rec.Links())
}

// resolvable returns the frames to remap for rec. A record without a parsed
// stack falls back to its raw location.
func resolvable(rec *capture.Record) []stack.Frame {
	if _, ok := stack.Primary(rec.Frames); ok {
		return rec.Frames
	}
	if rec.Raw.File != "" && rec.Raw.Line > 0 {
		return []stack.Frame{{File: rec.Raw.File, Line: rec.Raw.Line, Column: rec.Raw.Column}}
	}
	return nil
}

func (e *Engine) resolveAsync(rec *capture.Record) {
	frames := resolvable(rec)
	if len(frames) == 0 {
		return
	}
	gen := e.generation.Load()

	e.pending.Add(1)
	go func() {
		defer e.pending.Done()

		start := time.Now()
		resolved := e.resolver.ResolveStack(e.ctx, frames)
		e.metrics.resolveTime.Observe(time.Since(start).Seconds())

		e.post(func() {
			if e.generation.Load() != gen {
				e.metrics.discarded.Inc()
				debug.Log("lens", "discarding resolution for %q after reset", rec.Message)
				return
			}
			if _, ok := e.registry.Get(rec.ID); !ok {
				return
			}
			rec.SetResolved(resolved)
			if loc := rec.Resolved(); loc != nil {
				e.metrics.resolutions.WithLabelValues("resolved").Inc()
				debug.Log("lens", "resolved %q to %s", rec.Message, loc)
			} else {
				e.metrics.resolutions.WithLabelValues("unresolved").Inc()
			}
			e.highlightRecord(rec)
		})
	}()
}

// Subscribe registers fn for Detected notifications. The returned function
// removes the subscription.
func (e *Engine) Subscribe(fn func(Detected)) func() {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextID
	e.nextID++
	e.subs = append(e.subs, subscriber{id: id, fn: fn})
	return func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		for i, s := range e.subs {
			if s.id == id {
				e.subs = append(e.subs[:i], e.subs[i+1:]...)
				return
			}
		}
	}
}

// notify calls subscribers in registration order. A panicking subscriber is
// logged and skipped.
func (e *Engine) notify(d Detected) {
	e.subMu.RLock()
	subs := append([]subscriber(nil), e.subs...)
	e.subMu.RUnlock()

	for _, s := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					debug.Error("lens", "subscriber %d panicked: %v", s.id, r)
				}
			}()
			s.fn(d)
		}()
	}
}
