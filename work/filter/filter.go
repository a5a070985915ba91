// Package filter applies per-source channel name filters at import time.
// Patterns are compiled once per source and cached; an invalid pattern is
// logged and treated as no filter rather than failing the refresh.
package filter

import (
	"sync"

	"apex-live/work/logger"
	"apex-live/work/types"

	"github.com/grafana/regexp"
)

// Compiled holds a source's compiled include and exclude patterns. A nil
// pattern means no constraint on that side.
type Compiled struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Manager caches compiled filters per source.
type Manager struct {
	mu      sync.RWMutex
	filters map[string]*Compiled
	raw     map[string][2]string
}

func NewManager() *Manager {
	return &Manager{
		filters: make(map[string]*Compiled),
		raw:     make(map[string][2]string),
	}
}

// For returns the compiled filter for a source, recompiling when the
// source's patterns changed since the last call.
func (m *Manager) For(src types.Source) *Compiled {
	m.mu.RLock()
	cached, ok := m.filters[src.ID]
	unchanged := ok && m.raw[src.ID] == [2]string{src.IncludeRegex, src.ExcludeRegex}
	m.mu.RUnlock()
	if unchanged {
		return cached
	}

	compiled := &Compiled{
		Include: compile(src.ID, "include", src.IncludeRegex),
		Exclude: compile(src.ID, "exclude", src.ExcludeRegex),
	}

	m.mu.Lock()
	m.filters[src.ID] = compiled
	m.raw[src.ID] = [2]string{src.IncludeRegex, src.ExcludeRegex}
	m.mu.Unlock()
	return compiled
}

// Forget drops a deleted source's cached filter.
func (m *Manager) Forget(id string) {
	m.mu.Lock()
	delete(m.filters, id)
	delete(m.raw, id)
	m.mu.Unlock()
}

func compile(sourceID, side, pattern string) *regexp.Regexp {
	if pattern == "" {
		return nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		logger.Warn("{filter - compile} invalid %s pattern for source %s: %v", side, sourceID, err)
		return nil
	}
	return re
}

// Keep reports whether a channel name passes the filter: it must match
// the include pattern when one is set, and must not match the exclude
// pattern.
func (c *Compiled) Keep(name string) bool {
	if c.Include != nil && !c.Include.MatchString(name) {
		return false
	}
	if c.Exclude != nil && c.Exclude.MatchString(name) {
		return false
	}
	return true
}

// Apply filters a channel list in place order, returning the kept subset.
func (c *Compiled) Apply(channels []types.LiveChannel) []types.LiveChannel {
	if c.Include == nil && c.Exclude == nil {
		return channels
	}
	kept := channels[:0]
	for _, ch := range channels {
		if c.Keep(ch.Name) {
			kept = append(kept, ch)
		}
	}
	return kept
}
