package risk

import (
	"sort"
	"sync"

	"kalshi_go/pkg/safe"
)

// MinFillSamples is the number of terminal orders needed before observed fill rates are trusted.
const MinFillSamples = 20

// ClassStats counts terminal orders for one instrument class.
type ClassStats struct {
	Filled   int `json:"filled"`
	Terminal int `json:"terminal"`
}

// FillStats estimates the probability that a resting order fills, per instrument class (series prefix).
type FillStats struct {
	mu       sync.RWMutex
	fallback float64
	classes  map[string]ClassStats
}

// NewFillStats creates empty statistics.
func NewFillStats(fallback float64) *FillStats {
	return &FillStats{fallback: safe.Clamp01(fallback), classes: make(map[string]ClassStats)}
}

// Record counts one terminal order.
func (f *FillStats) Record(class string, filled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs := f.classes[class]
	cs.Terminal++
	if filled {
		cs.Filled++
	}
	f.classes[class] = cs
}

// Probability returns the observed fill rate, or the fallback until MinFillSamples exist.
func (f *FillStats) Probability(class string) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	cs, ok := f.classes[class]
	if !ok || cs.Terminal < MinFillSamples {
		return f.fallback
	}
	return safe.Clamp01(safe.Div(float64(cs.Filled), float64(cs.Terminal)))
}

// Export copies the counters for persistence.
func (f *FillStats) Export() map[string]ClassStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]ClassStats, len(f.classes))
	for k, v := range f.classes {
		out[k] = v
	}
	return out
}

// Restore replaces the counters with persisted values. Inconsistent entries are skipped.
func (f *FillStats) Restore(in map[string]ClassStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.classes = make(map[string]ClassStats, len(in))
	for k, v := range in {
		if v.Terminal < 0 || v.Filled < 0 || v.Filled > v.Terminal {
			continue
		}
		f.classes[k] = v
	}
}

// Classes lists known classes, sorted.
func (f *FillStats) Classes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.classes))
	for k := range f.classes {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
