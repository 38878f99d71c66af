package aggregator

import (
	"time"

	"kalshi_go/pkg/quant"
)

// Sample is one recorded fair value.
type Sample struct {
	Value      float64
	Confidence float64
	Ts         quant.TimeStamp
}

// History keeps a fixed-size ring buffer of fair values, at most one per Resolution.
// It is owned by a single goroutine.
type History struct {
	samples    []Sample
	head       int // Next write position
	count      int
	resolution time.Duration
}

// NewHistory allocates a ring buffer able to cover span at the given resolution.
func NewHistory(span, resolution time.Duration) *History {
	if resolution <= 0 {
		resolution = time.Second
	}
	size := int(span/resolution) + 1
	if size < 2 {
		size = 2
	}
	return &History{samples: make([]Sample, size), resolution: resolution}
}

// Record appends an estimate. Samples closer than the resolution to the latest are coalesced.
func (h *History) Record(e Estimate) {
	if !e.Valid() {
		return
	}
	s := Sample{Value: e.Value.InexactFloat64(), Confidence: e.Confidence, Ts: e.Ts}
	if latest, ok := h.Latest(); ok && s.Ts.Time().Sub(latest.Ts.Time()) < h.resolution {
		// Overwrite the latest slot
		idx := h.head - 1
		if idx < 0 {
			idx = len(h.samples) - 1
		}
		h.samples[idx] = s
		return
	}
	h.samples[h.head] = s
	h.head = (h.head + 1) % len(h.samples)
	if h.count < len(h.samples) {
		h.count++
	}
}

// Latest returns the most recent sample.
func (h *History) Latest() (Sample, bool) {
	if h.count == 0 {
		return Sample{}, false
	}
	idx := h.head - 1
	if idx < 0 {
		idx = len(h.samples) - 1
	}
	return h.samples[idx], true
}

// At returns the newest sample taken at or before t.
func (h *History) At(t time.Time) (Sample, bool) {
	target := quant.FromTime(t)
	idx := h.head
	for i := 0; i < h.count; i++ {
		idx--
		if idx < 0 {
			idx = len(h.samples) - 1
		}
		if h.samples[idx].Ts <= target {
			return h.samples[idx], true
		}
	}
	return Sample{}, false
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	return h.count
}
