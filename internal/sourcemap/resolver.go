// Package sourcemap remaps generated script positions to original source
// positions through discoverable source maps.
//
// Maps are fetched lazily, once per generated file, and cached for the life of
// the Resolver (or until Reset). A file whose map cannot be found, fetched or
// parsed is cached as unavailable so repeated frames from it never trigger
// network activity again.
package sourcemap

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	gosourcemap "github.com/go-sourcemap/sourcemap"
	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/errlens/internal/debug"
	"github.com/standardbeagle/errlens/internal/stack"
)

// Config configures map fetching.
type Config struct {
	// Timeout bounds each individual fetch.
	// Default: 3 seconds
	Timeout time.Duration
	// Retries is how many times a timed out or transiently failed fetch is
	// retried. Zero disables retries; negative values use the default.
	// Default: 2
	Retries int
	// RetryDelay is the fixed delay between attempts.
	// Default: 250ms
	RetryDelay time.Duration
	// MaxBytes caps the size of a fetched script or map.
	// Default: 32 MiB
	MaxBytes int64
	// Client is the HTTP client used for fetches. Default: a fresh client.
	Client *http.Client
	// Allow reports whether an http or https script URL may be fetched. A
	// map referenced by a permitted script is also fetched when it shares the
	// script's origin. Nil permits every http and https URL.
	Allow func(u *url.URL) bool
	// AllowFiles permits file:// scripts and maps.
	AllowFiles bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:    3 * time.Second,
		Retries:    2,
		RetryDelay: 250 * time.Millisecond,
		MaxBytes:   32 << 20,
	}
}

// Stats reports cache and fetch counters.
type Stats struct {
	Cached      int   `json:"cached"`
	Unavailable int   `json:"unavailable"`
	Fetches     int64 `json:"fetches"`
	Failures    int64 `json:"failures"`
	Resolved    int64 `json:"resolved"`
	Unresolved  int64 `json:"unresolved"`
}

type entry struct {
	consumer *gosourcemap.Consumer
}

func (e *entry) available() bool { return e.consumer != nil }

// Resolver translates generated positions to original ones.
type Resolver struct {
	cfg    Config
	client *http.Client

	mu    sync.RWMutex
	cache map[string]*entry

	group      singleflight.Group
	generation atomic.Uint64

	fetches    atomic.Int64
	failures   atomic.Int64
	resolved   atomic.Int64
	unresolved atomic.Int64
}

// NewResolver creates a resolver. Zero config fields take defaults.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retries < 0 {
		cfg.Retries = def.Retries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = def.RetryDelay
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Resolver{
		cfg:    cfg,
		client: client,
		cache:  make(map[string]*entry),
	}
}

// Config returns the effective configuration.
func (r *Resolver) Config() Config {
	return r.cfg
}

// Resolve returns the original position for a 1-indexed generated line and
// column, or nil when no map is discoverable, the map is invalid, or the
// position has no mapping.
func (r *Resolver) Resolve(ctx context.Context, file string, line, column int) *stack.Location {
	loc, _, ok := r.resolve(ctx, file, line, column)
	if !ok {
		return nil
	}
	return &loc
}

// ResolveFrame remaps a single frame. Frames that cannot be remapped are
// returned unchanged with ok false.
func (r *Resolver) ResolveFrame(ctx context.Context, f stack.Frame) (stack.Frame, bool) {
	if !f.HasPosition() {
		return f, false
	}
	loc, name, ok := r.resolve(ctx, f.File, f.Line, f.Column)
	if !ok {
		return f, false
	}
	resolved := stack.Frame{
		Function: f.Function,
		File:     loc.File,
		Line:     loc.Line,
		Column:   loc.Column,
		Raw:      f.Raw,
		Resolved: true,
	}
	if name != "" {
		resolved.Function = name
	}
	return resolved, true
}

// ResolveStack remaps every frame independently. The result has the same
// length and order as frames; frames that fail to resolve are kept as-is.
func (r *Resolver) ResolveStack(ctx context.Context, frames []stack.Frame) []stack.Frame {
	out := make([]stack.Frame, len(frames))
	for i, f := range frames {
		out[i], _ = r.ResolveFrame(ctx, f)
	}
	return out
}

func (r *Resolver) resolve(ctx context.Context, file string, line, column int) (stack.Location, string, bool) {
	if file == "" || line <= 0 {
		return stack.Location{}, "", false
	}
	consumer := r.consumer(ctx, file)
	if consumer == nil {
		r.unresolved.Add(1)
		return stack.Location{}, "", false
	}

	col := column - 1
	if col < 0 {
		col = 0
	}
	source, name, origLine, origCol, ok := consumer.Source(line, col)
	if !ok || source == "" || origLine <= 0 {
		debug.Log("sourcemap", "no mapping for %s:%d:%d", file, line, column)
		r.unresolved.Add(1)
		return stack.Location{}, "", false
	}

	r.resolved.Add(1)
	return stack.Location{File: source, Line: origLine, Column: origCol + 1}, name, true
}

// consumer returns the parsed map for file, loading it on first use.
func (r *Resolver) consumer(ctx context.Context, file string) *gosourcemap.Consumer {
	key := cacheKey(file)

	r.mu.RLock()
	e, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return e.consumer
	}
	if ctx.Err() != nil {
		return nil
	}

	gen := r.generation.Load()
	// The shared load must not fail because one waiting caller gave up, so it
	// runs detached from ctx and is bounded by the per-fetch timeouts.
	loadCtx := context.WithoutCancel(ctx)
	ch := r.group.DoChan(fmt.Sprintf("%d|%s", gen, key), func() (interface{}, error) {
		r.mu.RLock()
		e, ok := r.cache[key]
		r.mu.RUnlock()
		if ok {
			return e, nil
		}

		loaded := &entry{consumer: r.load(loadCtx, file)}

		r.mu.Lock()
		defer r.mu.Unlock()
		if r.generation.Load() != gen {
			debug.Log("sourcemap", "discarding map for %s loaded before reset", file)
			return &entry{}, nil
		}
		r.cache[key] = loaded
		return loaded, nil
	})

	select {
	case res := <-ch:
		return res.Val.(*entry).consumer
	case <-ctx.Done():
		debug.Log("sourcemap", "lookup of %s abandoned: %v", file, ctx.Err())
		return nil
	}
}

// load discovers, fetches and parses the map for a generated file. It returns
// nil when any step fails.
func (r *Resolver) load(ctx context.Context, file string) *gosourcemap.Consumer {
	if err := r.permit(file, ""); err != nil {
		debug.Warn("sourcemap", "not fetching %s: %v", file, err)
		return nil
	}
	script, header, err := r.fetch(ctx, file)
	if err != nil {
		debug.Warn("sourcemap", "failed to fetch %s: %v", file, err)
		return nil
	}

	ref := headerReference(header)
	if ref == "" {
		ref = FindReference(script)
	}
	if ref == "" {
		debug.Log("sourcemap", "no source map reference in %s", file)
		return nil
	}

	mapURL := file
	var data []byte
	if isDataURL(ref) {
		data, err = decodeDataURL(ref)
		if err != nil {
			debug.Warn("sourcemap", "invalid inline map in %s: %v", file, err)
			return nil
		}
	} else {
		mapURL, err = resolveReference(file, ref)
		if err != nil {
			debug.Warn("sourcemap", "invalid map reference %q in %s: %v", ref, file, err)
			return nil
		}
		if err := r.permit(mapURL, file); err != nil {
			debug.Warn("sourcemap", "not fetching map %s: %v", mapURL, err)
			return nil
		}
		data, _, err = r.fetch(ctx, mapURL)
		if err != nil {
			debug.Warn("sourcemap", "failed to fetch map %s: %v", mapURL, err)
			return nil
		}
	}

	consumer, err := gosourcemap.Parse(mapURL, data)
	if err != nil {
		debug.Warn("sourcemap", "failed to parse map %s: %v", mapURL, err)
		return nil
	}
	debug.Log("sourcemap", "loaded map %s for %s", mapURL, file)
	return consumer
}

// Reset clears the cache. Fetches in flight when Reset is called complete but
// their results are discarded.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.generation.Add(1)
	r.cache = make(map[string]*entry)
}

// Cached reports whether a lookup for file has completed, and whether a map
// was available.
func (r *Resolver) Cached(file string) (attempted, available bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.cache[cacheKey(file)]
	if !ok {
		return false, false
	}
	return true, e.available()
}

// Stats returns cache and fetch counters.
func (r *Resolver) Stats() Stats {
	r.mu.RLock()
	s := Stats{Cached: len(r.cache)}
	for _, e := range r.cache {
		if !e.available() {
			s.Unavailable++
		}
	}
	r.mu.RUnlock()

	s.Fetches = r.fetches.Load()
	s.Failures = r.failures.Load()
	s.Resolved = r.resolved.Load()
	s.Unresolved = r.unresolved.Load()
	return s
}
