package vad

import (
	"math"
	"sort"
)

// volumeHistory is a bounded FIFO of volume readings; when full, the
// oldest reading is overwritten.
type volumeHistory struct {
	values []float64
	start  int
	length int
}

func newVolumeHistory(capacity int) volumeHistory {
	return volumeHistory{values: make([]float64, capacity)}
}

func (h *volumeHistory) Len() int {
	return h.length
}

func (h *volumeHistory) Cap() int {
	return len(h.values)
}

func (h *volumeHistory) Push(v float64) {
	if h.length < len(h.values) {
		h.values[(h.start+h.length)%len(h.values)] = v
		h.length++
		return
	}
	h.values[h.start] = v
	h.start = (h.start + 1) % len(h.values)
}

// AppendTo appends the readings from the oldest to the newest.
func (h *volumeHistory) AppendTo(dst []float64) []float64 {
	for idx := 0; idx < h.length; idx++ {
		dst = append(dst, h.values[(h.start+idx)%len(h.values)])
	}
	return dst
}

// Resize changes the capacity keeping the newest readings.
func (h *volumeHistory) Resize(capacity int) {
	if capacity == len(h.values) {
		return
	}
	values := h.AppendTo(make([]float64, 0, h.length))
	if len(values) > capacity {
		values = values[len(values)-capacity:]
	}
	*h = newVolumeHistory(capacity)
	for _, v := range values {
		h.Push(v)
	}
}

func (h *volumeHistory) Reset() {
	h.start = 0
	h.length = 0
}

// NoiseFloorTracker estimates the ambient noise level as a slowly
// moving low percentile of the recent volume readings.
type NoiseFloorTracker struct {
	config  Config
	floor   float64
	history volumeHistory
	sorted  []float64
}

func NewNoiseFloorTracker(cfg Config) *NoiseFloorTracker {
	return &NoiseFloorTracker{
		config:  cfg,
		floor:   cfg.InitialNoiseFloor,
		history: newVolumeHistory(cfg.HistorySize),
	}
}

// Update feeds the volume of the current frame and returns the
// (possibly updated) noise floor. Every reading enters the history, but
// the floor is never updated while speaking.
func (t *NoiseFloorTracker) Update(volumeDb float64, isSpeaking bool) (float64, bool) {
	t.history.Push(volumeDb)
	if !t.config.AdaptNoiseFloor || isSpeaking || t.history.Len() < t.config.WarmupSamples {
		return t.floor, false
	}

	candidate := t.percentile(t.config.NoiseFloorPercentile)
	rate := t.config.AdaptationRate
	next := t.clamp(t.floor*(1-rate) + candidate*rate)
	if next == t.floor {
		return t.floor, false
	}
	t.floor = next
	return t.floor, true
}

func (t *NoiseFloorTracker) percentile(p float64) float64 {
	t.sorted = t.history.AppendTo(t.sorted[:0])
	sort.Float64s(t.sorted)
	idx := int(math.Floor(p * float64(len(t.sorted))))
	idx = max(0, min(idx, len(t.sorted)-1))
	return t.sorted[idx]
}

func (t *NoiseFloorTracker) clamp(v float64) float64 {
	return math.Max(t.config.MinLevel, math.Min(t.config.MaxLevel, v))
}

func (t *NoiseFloorTracker) Floor() float64 {
	return t.floor
}

// SetFloor overrides the current estimate, for example with a
// calibrated static value.
func (t *NoiseFloorTracker) SetFloor(floor float64) {
	t.floor = t.clamp(floor)
}

func (t *NoiseFloorTracker) HistoryLen() int {
	return t.history.Len()
}

// SetConfig applies new tunables keeping the collected history (the
// newest readings, if the history shrinks).
func (t *NoiseFloorTracker) SetConfig(cfg Config) {
	t.config = cfg
	t.history.Resize(cfg.HistorySize)
	t.floor = t.clamp(t.floor)
}

// Reset returns the tracker to InitialNoiseFloor with an empty history.
func (t *NoiseFloorTracker) Reset() {
	t.floor = t.config.InitialNoiseFloor
	t.history.Reset()
}
