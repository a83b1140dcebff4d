// Package vad detects when someone is speaking in a stream of audio.
//
// A Detector turns every frame of samples into a volume reading (via
// pkg/spectrum and pkg/loudness), keeps track of the ambient noise
// floor and reports the speech boundaries through Callbacks.
package vad

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/pcm"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness/implementations/rms"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum/implementations/godsp"
)

type Detector struct {
	callbacks      Callbacks
	clock          Clock
	fft            spectrum.FFT
	meter          loudness.Meter
	eventQueueSize int
	syncCallbacks  bool

	// processingLocker serializes frames; it is always taken before locker.
	processingLocker sync.Mutex
	analyzer         *spectrum.Analyzer

	locker      sync.Mutex
	config      Config
	tracker     *NoiseFloorTracker
	machine     SpeechStateMachine
	volumeDb    float64
	session     *session
	lastSession *session
}

type session struct {
	capture    capture.Capture
	cancelFunc context.CancelFunc
	dispatcher *eventDispatcher
	doneCh     chan struct{}
	err        error

	closeOnce sync.Once
	closeErr  error
}

func NewDetector(
	cfg Config,
	callbacks Callbacks,
	opts ...Option,
) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Detector{
		callbacks:      callbacks,
		clock:          SystemClock{},
		fft:            godsp.New(),
		meter:          rms.New(),
		eventQueueSize: DefaultEventQueueSize,
		config:         cfg,
		tracker:        NewNoiseFloorTracker(cfg),
		volumeDb:       cfg.MinLevel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.clock == nil {
		d.clock = SystemClock{}
	}
	if d.meter == nil {
		d.meter = rms.New()
	}
	if d.eventQueueSize <= 0 {
		d.eventQueueSize = DefaultEventQueueSize
	}
	return d, nil
}

func (d *Detector) Config() Config {
	d.locker.Lock()
	defer d.locker.Unlock()
	return d.config
}

// SetConfig validates and applies the patch. On failure the previous
// configuration stays in effect.
func (d *Detector) SetConfig(patch ConfigPatch) error {
	d.locker.Lock()
	defer d.locker.Unlock()
	cfg := d.config.Apply(patch)
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.config = cfg
	d.tracker.SetConfig(cfg)
	return nil
}

func (d *Detector) IsSpeaking() bool {
	d.locker.Lock()
	defer d.locker.Unlock()
	return d.machine.IsSpeaking()
}

func (d *Detector) NoiseFloor() float64 {
	d.locker.Lock()
	defer d.locker.Unlock()
	return d.tracker.Floor()
}

// Volume returns the volume of the last processed frame.
func (d *Detector) Volume() float64 {
	d.locker.Lock()
	defer d.locker.Unlock()
	return d.volumeDb
}

// SetNoiseFloor overrides the current noise floor estimate.
func (d *Detector) SetNoiseFloor(floorDb float64) {
	d.locker.Lock()
	defer d.locker.Unlock()
	d.tracker.SetFloor(floorDb)
}

// Start begins listening to the capture in a background goroutine.
// The capture is owned by the detector from now on and is closed
// by Stop or when it ends.
func (d *Detector) Start(
	ctx context.Context,
	c capture.Capture,
) (_err error) {
	logger.Tracef(ctx, "Start")
	defer func() { logger.Tracef(ctx, "/Start: %v", _err) }()

	if c == nil {
		return fmt.Errorf("%w: no capture provided", ErrCaptureUnavailable)
	}
	encoding, channels, err := capture.Describe(ctx, c)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}
	frameReader, err := pcm.NewFrameReader(c, encoding.PCMFormat, channels)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	d.processingLocker.Lock()
	defer d.processingLocker.Unlock()
	d.locker.Lock()
	defer d.locker.Unlock()

	if d.session != nil {
		return ErrAlreadyStarted
	}
	if _, err := d.analyzerFor(d.config); err != nil {
		return fmt.Errorf("unable to initialize the spectrum analyzer: %w", err)
	}

	ctx, cancelFn := context.WithCancel(ctx)
	s := &session{
		capture:    c,
		cancelFunc: cancelFn,
		doneCh:     make(chan struct{}),
	}
	if !d.syncCallbacks {
		s.dispatcher = newEventDispatcher(ctx, d.callbacks, d.eventQueueSize)
	}
	d.session = s
	d.lastSession = s

	// a blocked ReadFrame is interrupted only by closing the capture
	context.AfterFunc(ctx, func() {
		if err := s.release(); err != nil {
			logger.Errorf(ctx, "%v", err)
		}
	})

	logger.Debugf(ctx, "listening to %T: %s, %d Hz, %d channel(s)", c, encoding.PCMFormat, encoding.SampleRate, channels)
	observability.Go(ctx, func() {
		defer close(s.doneCh)
		defer cancelFn()
		d.sessionLoop(ctx, s, frameReader, encoding.SampleRate)
	})
	return nil
}

// Stop ends the session started by Start, closes the capture and resets
// the detector state. It does not emit a speech-end event. Calling Stop
// on a stopped detector is a no-op. The same happens when the context
// passed to Start is cancelled.
//
// Stop does not wait for the session goroutine to exit or for the queued
// events to be delivered (see Wait), so it may be called from a callback.
func (d *Detector) Stop() error {
	d.locker.Lock()
	s := d.session
	d.locker.Unlock()
	if s == nil {
		return nil
	}

	s.cancelFunc()
	err := s.release()
	d.detach(s)
	return err
}

// Wait blocks until the current (or the last) session ends and all of
// its events are delivered. It returns the terminal error of the
// session: nil if the capture ended or Stop was called.
//
// If the capture's Close does not interrupt a pending Read, the session
// ends only when that Read returns.
func (d *Detector) Wait(ctx context.Context) error {
	d.locker.Lock()
	s := d.lastSession
	d.locker.Unlock()
	if s == nil {
		return nil
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
	}
	if s.dispatcher != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.dispatcher.Done():
		}
	}
	return s.err
}

func (s *session) release() error {
	s.closeOnce.Do(func() {
		var mErr *multierror.Error
		if err := s.capture.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the capture: %w", err))
		}
		s.closeErr = mErr.ErrorOrNil()
	})
	return s.closeErr
}

func (s *session) emit(ctx context.Context, callbacks Callbacks, events []Event) {
	for _, ev := range events {
		if s.dispatcher == nil {
			callbacks.call(ev)
			continue
		}
		s.dispatcher.Emit(ctx, ev)
	}
}

func (d *Detector) sessionLoop(
	ctx context.Context,
	s *session,
	frameReader *pcm.FrameReader,
	sampleRate audio.SampleRate,
) {
	logger.Tracef(ctx, "sessionLoop")
	defer func() { logger.Tracef(ctx, "/sessionLoop: %v", s.err) }()

	err := d.readLoop(ctx, s, frameReader, sampleRate)
	switch {
	case err == nil:
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		logger.Debugf(ctx, "the capture has ended")
		err = nil
	case ctx.Err() != nil:
		logger.Debugf(ctx, "the session was stopped: %v", err)
		err = nil
	default:
		err = fmt.Errorf("%w: %w", ErrCaptureLost, err)
		logger.Errorf(ctx, "%v", err)
		s.emit(ctx, d.callbacks, []Event{{
			Type:      EventTypeError,
			Timestamp: d.clock.Now(),
			Err:       err,
		}})
	}
	s.err = err

	if s.dispatcher != nil {
		s.dispatcher.Close()
	}
	if err := s.release(); err != nil {
		logger.Errorf(ctx, "%v", err)
	}
	d.detach(s)
}

// detach forgets the session and resets the detector state, unless the
// session was already replaced by a newer one.
func (d *Detector) detach(s *session) {
	d.processingLocker.Lock()
	defer d.processingLocker.Unlock()
	d.locker.Lock()
	defer d.locker.Unlock()
	if d.session != s {
		return
	}
	d.session = nil
	d.resetLocked()
}

func (d *Detector) readLoop(
	ctx context.Context,
	s *session,
	frameReader *pcm.FrameReader,
	sampleRate audio.SampleRate,
) error {
	var frame []float64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		frameSize := d.Config().FrameSize
		if len(frame) != frameSize {
			frame = make([]float64, frameSize)
		}
		if err := frameReader.ReadFrame(frame); err != nil {
			return fmt.Errorf("unable to read a frame: %w", err)
		}

		events, err := d.processSessionFrame(ctx, frame, sampleRate)
		if err != nil {
			return fmt.Errorf("unable to process a frame: %w", err)
		}
		s.emit(ctx, d.callbacks, events)
	}
}

// processSessionFrame drops the frames read after the session was
// stopped: the session context is cancelled before detach takes
// processingLocker.
func (d *Detector) processSessionFrame(
	ctx context.Context,
	samples []float64,
	sampleRate audio.SampleRate,
) ([]Event, error) {
	d.processingLocker.Lock()
	defer d.processingLocker.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return d.processFrameLocked(ctx, samples, sampleRate)
}

// ProcessFrame analyzes one frame of mono samples (of exactly
// Config().FrameSize length) and calls the callbacks synchronously. It
// is the push-based alternative to Start and cannot be used while a
// capture session is running.
func (d *Detector) ProcessFrame(
	ctx context.Context,
	samples []float64,
	sampleRate audio.SampleRate,
) error {
	events, err := d.processPushedFrame(ctx, samples, sampleRate)
	if err != nil {
		return err
	}
	for _, ev := range events {
		d.callbacks.call(ev)
	}
	return nil
}

func (d *Detector) processPushedFrame(
	ctx context.Context,
	samples []float64,
	sampleRate audio.SampleRate,
) ([]Event, error) {
	d.processingLocker.Lock()
	defer d.processingLocker.Unlock()

	d.locker.Lock()
	isRunning := d.session != nil
	d.locker.Unlock()
	if isRunning {
		return nil, ErrAlreadyStarted
	}
	return d.processFrameLocked(ctx, samples, sampleRate)
}

// processFrameLocked requires processingLocker.
func (d *Detector) processFrameLocked(
	ctx context.Context,
	samples []float64,
	sampleRate audio.SampleRate,
) ([]Event, error) {
	cfg := d.Config()
	if len(samples) != cfg.FrameSize {
		return nil, fmt.Errorf("expected %d samples, got %d", cfg.FrameSize, len(samples))
	}
	analyzer, err := d.analyzerFor(cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize the spectrum analyzer: %w", err)
	}
	snapshot, err := analyzer.Analyze(ctx, samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("unable to analyze the frame: %w", err)
	}
	volumeDb := d.meter.VolumeDb(snapshot, cfg.LoudnessRange())

	if observer, ok := d.clock.(frameObserver); ok {
		observer.ObserveFrame(len(samples), sampleRate)
	}
	now := d.clock.Now()

	d.locker.Lock()
	defer d.locker.Unlock()

	d.volumeDb = volumeDb
	floorDb, floorChanged := d.tracker.Update(volumeDb, d.machine.IsSpeaking())

	events := make([]Event, 0, 3)
	events = append(events, Event{
		Type:         EventTypeVolumeChange,
		Timestamp:    now,
		VolumeDb:     volumeDb,
		NoiseFloorDb: floorDb,
	})
	if floorChanged {
		events = append(events, Event{
			Type:         EventTypeNoiseFloorUpdate,
			Timestamp:    now,
			VolumeDb:     volumeDb,
			NoiseFloorDb: floorDb,
		})
	}

	result := d.machine.Step(volumeDb-floorDb, now, d.config)
	switch result.Transition {
	case TransitionSpeechStart:
		logger.Debugf(ctx, "speech started (volume: %.1f dB, noise floor: %.1f dB)", volumeDb, floorDb)
		events = append(events, Event{
			Type:            EventTypeSpeechStart,
			Timestamp:       now,
			VolumeDb:        volumeDb,
			NoiseFloorDb:    floorDb,
			SpeechStartedAt: result.SpeechStartedAt,
		})
	case TransitionSpeechEnd:
		logger.Debugf(ctx, "speech ended (silence since %v)", result.SilenceSince)
		events = append(events, Event{
			Type:            EventTypeSpeechEnd,
			Timestamp:       now,
			VolumeDb:        volumeDb,
			NoiseFloorDb:    floorDb,
			SpeechStartedAt: result.SpeechStartedAt,
			SilenceSince:    result.SilenceSince,
		})
	}
	return events, nil
}

// analyzerFor returns an analyzer matching the config, re-creating it if
// the analysis parameters have changed. processingLocker must be held.
func (d *Detector) analyzerFor(cfg Config) (*spectrum.Analyzer, error) {
	if a := d.analyzer; a != nil &&
		a.FrameSize == cfg.FrameSize &&
		a.Smoothing == cfg.SmoothingFactor &&
		a.MinDecibels == cfg.AnalyzerMinDecibels &&
		a.MaxDecibels == cfg.AnalyzerMaxDecibels {
		return a, nil
	}
	a, err := spectrum.NewAnalyzer(
		d.fft,
		cfg.FrameSize,
		cfg.SmoothingFactor,
		cfg.AnalyzerMinDecibels,
		cfg.AnalyzerMaxDecibels,
	)
	if err != nil {
		return nil, err
	}
	d.analyzer = a
	return a, nil
}

// resetLocked requires both processingLocker and locker.
func (d *Detector) resetLocked() {
	d.tracker.Reset()
	d.machine.Reset()
	d.volumeDb = d.config.MinLevel
	if d.analyzer != nil {
		d.analyzer.Reset()
	}
}
