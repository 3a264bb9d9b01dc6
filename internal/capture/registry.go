package capture

import (
	"sync"
	"time"
)

// Registry holds the deduplicated records in arrival order.
type Registry struct {
	mu      sync.RWMutex
	records []*Record
	byID    map[string]*Record
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byID: make(map[string]*Record),
		now:  time.Now,
	}
}

// Same reports whether two records describe the same error: identical
// messages, or identical raw positions in a known file.
func Same(a, b *Record) bool {
	if a.Message == b.Message {
		return true
	}
	return a.Raw.File != "" && a.Raw == b.Raw
}

// Add registers rec unless an equal record exists. On a match the existing
// record's count is incremented and it is returned with dup set; its first-seen
// time and stack are left untouched.
func (r *Registry) Add(rec *Record) (existing *Record, dup bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, cur := range r.records {
		if Same(cur, rec) {
			at := rec.FirstSeen
			if at.IsZero() {
				at = r.now()
			}
			cur.increment(at)
			return cur, true
		}
	}

	r.records = append(r.records, rec)
	r.byID[rec.ID] = rec
	return rec, false
}

// Get returns a record by ID.
func (r *Registry) Get(id string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	return rec, ok
}

// FindByHighlight returns the record that owns a highlight ID.
func (r *Registry) FindByHighlight(highlightID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.records {
		if rec.HasLink(highlightID) {
			return rec, true
		}
	}
	return nil, false
}

// List returns the records in arrival order.
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Record(nil), r.records...)
}

// Views returns snapshots of every record in arrival order.
func (r *Registry) Views() []View {
	records := r.List()
	views := make([]View, len(records))
	for i, rec := range records {
		views[i] = rec.View()
	}
	return views
}

// Remove deletes a record by ID.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return false
	}
	delete(r.byID, id)
	for i, rec := range r.records {
		if rec.ID == id {
			r.records = append(r.records[:i], r.records[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every record.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = nil
	r.byID = make(map[string]*Record)
}

// Len returns the number of distinct records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// Total returns the sum of all occurrence counts.
func (r *Registry) Total() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	total := 0
	for _, rec := range r.records {
		total += rec.Count()
	}
	return total
}
