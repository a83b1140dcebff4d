package vad

import (
	"sync"
	"time"

	"github.com/xaionaro-go/voiceactivity/pkg/audio"
)

type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

var _ Clock = SystemClock{}

func (SystemClock) Now() time.Time {
	return time.Now()
}

// ManualClock only moves when told to.
type ManualClock struct {
	locker sync.Mutex
	now    time.Time
}

var _ Clock = (*ManualClock)(nil)

func NewManualClock(now time.Time) *ManualClock {
	return &ManualClock{now: now}
}

func (c *ManualClock) Now() time.Time {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.now
}

func (c *ManualClock) Set(now time.Time) {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.now = now
}

func (c *ManualClock) Advance(d time.Duration) {
	c.locker.Lock()
	defer c.locker.Unlock()
	c.now = c.now.Add(d)
}

// frameObserver is implemented by clocks that derive time from the
// processed audio itself.
type frameObserver interface {
	ObserveFrame(samples int, sampleRate audio.SampleRate)
}

// SampleClock measures time by the amount of processed samples. Now
// returns the time at the end of the last processed frame.
type SampleClock struct {
	locker  sync.Mutex
	origin  time.Time
	elapsed time.Duration
	// remainder keeps the sub-nanosecond part to avoid drift
	remainder uint64
}

var (
	_ Clock         = (*SampleClock)(nil)
	_ frameObserver = (*SampleClock)(nil)
)

func NewSampleClock(origin time.Time) *SampleClock {
	return &SampleClock{origin: origin}
}

func (c *SampleClock) Now() time.Time {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.origin.Add(c.elapsed)
}

// Elapsed returns the duration of the audio observed so far.
func (c *SampleClock) Elapsed() time.Duration {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.elapsed
}

func (c *SampleClock) ObserveFrame(samples int, sampleRate audio.SampleRate) {
	if sampleRate == 0 || samples <= 0 {
		return
	}
	c.locker.Lock()
	defer c.locker.Unlock()
	total := uint64(samples)*uint64(time.Second) + c.remainder
	c.elapsed += time.Duration(total / uint64(sampleRate))
	c.remainder = total % uint64(sampleRate)
}
