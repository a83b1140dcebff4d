package vad

import (
	"context"
	"fmt"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
)

// Segment is a span of speech relative to the start of the stream.
type Segment struct {
	Start time.Duration
	End   time.Duration
}

func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// DetectSegments runs a detector over a finite capture as fast as it can
// be read and returns the detected speech segments. The timing is derived
// from the amount of processed samples. A segment still open at the end
// of the stream is closed there.
//
// The capture is closed before returning.
func DetectSegments(
	ctx context.Context,
	cfg Config,
	c capture.Capture,
	opts ...Option,
) (_ret []Segment, _err error) {
	logger.Tracef(ctx, "DetectSegments")
	defer func() { logger.Tracef(ctx, "/DetectSegments: %d %v", len(_ret), _err) }()

	origin := time.Unix(0, 0)
	clock := NewSampleClock(origin)
	offset := func(t time.Time) time.Duration {
		return max(0, t.Sub(origin))
	}

	var (
		segments []Segment
		open     *Segment
	)
	callbacks := Callbacks{
		OnSpeechStart: func(ev Event) {
			open = &Segment{Start: offset(ev.SpeechStartedAt)}
		},
		OnSpeechEnd: func(ev Event) {
			if open == nil {
				return
			}
			open.End = offset(ev.SilenceSince)
			segments = append(segments, *open)
			open = nil
		},
	}

	opts = append(opts, WithClock(clock), WithSyncCallbacks())
	d, err := NewDetector(cfg, callbacks, opts...)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := d.Start(ctx, c); err != nil {
		c.Close()
		return nil, fmt.Errorf("unable to start the detector: %w", err)
	}

	err = d.Wait(ctx)
	if stopErr := d.Stop(); stopErr != nil {
		logger.Debugf(ctx, "unable to stop the detector: %v", stopErr)
	}
	if err != nil {
		return segments, err
	}

	if open != nil {
		open.End = clock.Elapsed()
		segments = append(segments, *open)
	}
	return segments, nil
}
