package vad

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/pcm"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
	"github.com/xaionaro-go/voiceactivity/pkg/capture/implementations/raw"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness"
	"github.com/xaionaro-go/voiceactivity/pkg/loudness/implementations/speechband"
	"github.com/xaionaro-go/voiceactivity/pkg/spectrum"
)

const (
	testSampleRate = audio.SampleRate(48000)
	testFrameStep  = 50 * time.Millisecond
)

var testEpoch = time.Unix(1700000000, 0)

// levelMeter reports whatever level it was told to.
type levelMeter struct {
	level atomic.Uint64
}

var _ loudness.Meter = (*levelMeter)(nil)

func newLevelMeter(level float64) *levelMeter {
	m := &levelMeter{}
	m.Set(level)
	return m
}

func (m *levelMeter) Set(level float64) {
	m.level.Store(math.Float64bits(level))
}

func (m *levelMeter) VolumeDb(spectrum.Snapshot, loudness.Range) float64 {
	return math.Float64frombits(m.level.Load())
}

type eventLog struct {
	locker sync.Mutex
	events []Event
	notify chan Event
}

func newEventLog() *eventLog {
	return &eventLog{notify: make(chan Event, 1024)}
}

func (l *eventLog) add(ev Event) {
	l.locker.Lock()
	l.events = append(l.events, ev)
	l.locker.Unlock()
	select {
	case l.notify <- ev:
	default:
	}
}

func (l *eventLog) Callbacks() Callbacks {
	return Callbacks{
		OnSpeechStart:      l.add,
		OnSpeechEnd:        l.add,
		OnVolumeChange:     l.add,
		OnNoiseFloorUpdate: l.add,
		OnError:            l.add,
	}
}

func (l *eventLog) OfType(t EventType) []Event {
	l.locker.Lock()
	defer l.locker.Unlock()
	var result []Event
	for _, ev := range l.events {
		if ev.Type == t {
			result = append(result, ev)
		}
	}
	return result
}

// DrainNotifications forgets the events nobody waited for.
func (l *eventLog) DrainNotifications() {
	for {
		select {
		case <-l.notify:
		default:
			return
		}
	}
}

func (l *eventLog) WaitFor(t *testing.T, eventType EventType) Event {
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev := <-l.notify:
			if ev.Type == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", eventType)
		}
	}
}

type testRig struct {
	t        *testing.T
	detector *Detector
	meter    *levelMeter
	clock    *ManualClock
	log      *eventLog
	frame    []float64
}

func newTestRig(t *testing.T, cfg Config) *testRig {
	rig := &testRig{
		t:     t,
		meter: newLevelMeter(cfg.MinLevel),
		clock: NewManualClock(testEpoch),
		log:   newEventLog(),
		frame: make([]float64, cfg.FrameSize),
	}
	d, err := NewDetector(cfg, rig.log.Callbacks(), WithMeter(rig.meter), WithClock(rig.clock))
	require.NoError(t, err)
	rig.detector = d
	return rig
}

// Feed advances the clock by one frame step and processes a frame of the given volume.
func (rig *testRig) Feed(volumeDb float64) {
	rig.meter.Set(volumeDb)
	rig.clock.Advance(testFrameStep)
	require.NoError(rig.t, rig.detector.ProcessFrame(context.Background(), rig.frame, testSampleRate))
}

func fixedFloorConfig() Config {
	cfg := DefaultConfig()
	cfg.AdaptNoiseFloor = false
	return cfg
}

func TestDetectorQuietNeverSpeaks(t *testing.T) {
	for name, cfg := range map[string]Config{
		"fixed_floor":    fixedFloorConfig(),
		"adaptive_floor": DefaultConfig(),
	} {
		t.Run(name, func(t *testing.T) {
			rig := newTestRig(t, cfg)
			for i := 0; i < 500; i++ {
				rig.Feed(-47)
				require.False(t, rig.detector.IsSpeaking())
			}
			assert.Empty(t, rig.log.OfType(EventTypeSpeechStart))
			assert.Len(t, rig.log.OfType(EventTypeVolumeChange), 500)
		})
	}
}

func TestDetectorHysteresis(t *testing.T) {
	rig := newTestRig(t, fixedFloorConfig())

	rig.Feed(-38) // t=50ms
	starts := rig.log.OfType(EventTypeSpeechStart)
	require.Len(t, starts, 1)
	assert.Equal(t, testEpoch.Add(50*time.Millisecond), starts[0].Timestamp)
	assert.Equal(t, testEpoch.Add(-250*time.Millisecond), starts[0].SpeechStartedAt)
	assert.True(t, rig.detector.IsSpeaking())

	rig.Feed(-46) // t=100ms, the countdown starts
	assert.True(t, rig.detector.IsSpeaking())
	rig.Feed(-35) // t=150ms, the countdown is cancelled

	// t=200ms..1150ms: 1100ms would have ended the speech if the countdown
	// started at 100ms had not been cancelled
	for i := 0; i < 20; i++ {
		rig.Feed(-46)
	}
	assert.True(t, rig.detector.IsSpeaking())
	assert.Empty(t, rig.log.OfType(EventTypeSpeechEnd))

	rig.Feed(-46) // t=1200ms, 1000ms since 200ms is not more than the padding
	assert.True(t, rig.detector.IsSpeaking())
	rig.Feed(-46) // t=1250ms
	ends := rig.log.OfType(EventTypeSpeechEnd)
	require.Len(t, ends, 1)
	assert.Equal(t, testEpoch.Add(200*time.Millisecond), ends[0].SilenceSince)
	assert.Equal(t, testEpoch.Add(1250*time.Millisecond), ends[0].Timestamp)
	assert.False(t, rig.detector.IsSpeaking())
}

func TestDetectorSingleSpeechEnd(t *testing.T) {
	rig := newTestRig(t, fixedFloorConfig())

	rig.Feed(-38) // t=50ms
	for i := 0; i < 100; i++ {
		rig.Feed(-47) // from t=100ms
	}

	ends := rig.log.OfType(EventTypeSpeechEnd)
	require.Len(t, ends, 1)
	// the countdown started at 100ms expires on the first frame after 1100ms
	assert.Equal(t, testEpoch.Add(1150*time.Millisecond), ends[0].Timestamp)
	assert.Equal(t, testEpoch.Add(100*time.Millisecond), ends[0].SilenceSince)
	assert.Equal(t, testEpoch.Add(-250*time.Millisecond), ends[0].SpeechStartedAt)
}

func TestDetectorEventOrder(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSamples = 1
	rig := newTestRig(t, cfg)

	rig.Feed(-20)
	rig.log.locker.Lock()
	defer rig.log.locker.Unlock()
	var types []EventType
	for _, ev := range rig.log.events {
		types = append(types, ev.Type)
	}
	assert.Equal(t, []EventType{EventTypeVolumeChange, EventTypeNoiseFloorUpdate, EventTypeSpeechStart}, types)
}

func TestDetectorFloorFrozenWhileSpeaking(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WarmupSamples = 5
	rig := newTestRig(t, cfg)

	for i := 0; i < 10; i++ {
		rig.Feed(-60)
	}
	require.False(t, rig.detector.IsSpeaking())
	require.Less(t, rig.detector.NoiseFloor(), cfg.InitialNoiseFloor)

	rig.Feed(-20)
	require.True(t, rig.detector.IsSpeaking())
	floor := rig.detector.NoiseFloor()
	updatesBefore := len(rig.log.OfType(EventTypeNoiseFloorUpdate))

	for i := 0; i < 15; i++ {
		rig.Feed(-20 + float64(i%3)*10)
		rig.Feed(-90)
		require.True(t, rig.detector.IsSpeaking())
		require.Equal(t, floor, rig.detector.NoiseFloor())
	}
	assert.Len(t, rig.log.OfType(EventTypeNoiseFloorUpdate), updatesBefore)
}

func TestDetectorSetConfig(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	d := rig.detector

	err := d.SetConfig(ConfigPatch{SilenceThreshold: Ptr(15.0)})
	require.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, DefaultVoiceThreshold, d.Config().VoiceThreshold)
	assert.Equal(t, DefaultSilenceThreshold, d.Config().SilenceThreshold)

	require.NoError(t, d.SetConfig(ConfigPatch{
		VoiceThreshold:   Ptr(20.0),
		SilenceThreshold: Ptr(15.0),
	}))
	assert.Equal(t, 20.0, d.Config().VoiceThreshold)
	assert.Equal(t, 15.0, d.Config().SilenceThreshold)

	// -35 is 15dB above the floor: enough for the old threshold, not for the new one
	rig.Feed(-35)
	assert.False(t, d.IsSpeaking())
}

func TestDetectorSetConfigFrameSize(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	require.NoError(t, rig.detector.SetConfig(ConfigPatch{FrameSize: Ptr(512)}))

	err := rig.detector.ProcessFrame(context.Background(), make([]float64, 2048), testSampleRate)
	assert.Error(t, err)
	require.NoError(t, rig.detector.ProcessFrame(context.Background(), make([]float64, 512), testSampleRate))
}

func TestDetectorSetConfigConcurrent(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	d := rig.detector

	ctx, cancelFn := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil; i++ {
			// valid and invalid patches alternate
			d.SetConfig(ConfigPatch{
				VoiceThreshold:   Ptr(float64(10 + i%7)),
				SilenceThreshold: Ptr(float64(5 + i%11)),
			})
		}
	}()

	for i := 0; i < 1000; i++ {
		cfg := d.Config()
		require.LessOrEqual(t, cfg.SilenceThreshold, cfg.VoiceThreshold)
	}
	cancelFn()
	wg.Wait()
}

func TestDetectorProcessFrameErrors(t *testing.T) {
	rig := newTestRig(t, DefaultConfig())
	err := rig.detector.ProcessFrame(context.Background(), make([]float64, 100), testSampleRate)
	assert.Error(t, err)

	d, err := NewDetector(DefaultConfig(), Callbacks{}, WithFFT(nil))
	require.NoError(t, err)
	err = d.ProcessFrame(context.Background(), make([]float64, DefaultFrameSize), testSampleRate)
	assert.ErrorIs(t, err, spectrum.ErrNoFFT)

	_, err = NewDetector(DefaultConfig().Apply(ConfigPatch{HistorySize: Ptr(0)}), Callbacks{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDetectorSpeechBandMeter(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.SmoothingFactor = 0

	volumeOf := func(frequency float64) float64 {
		d, err := NewDetector(cfg, Callbacks{}, WithMeter(speechband.New()))
		require.NoError(t, err)
		frame := audio.ToneSamples(testSampleRate, frequency, 0.5, cfg.FrameSize)
		require.NoError(t, d.ProcessFrame(ctx, frame, testSampleRate))
		return d.Volume()
	}
	assert.Greater(t, volumeOf(468.75), volumeOf(7992.1875))
}

func encodeFrames(cfg Config, frames int) []byte {
	return pcm.EncodeSamples(audio.PCMFormatS16LE, 1, make([]float64, cfg.FrameSize*frames))
}

func newRawCapture(r io.Reader) capture.Capture {
	return raw.New(r, audio.EncodingPCM{PCMFormat: audio.PCMFormatS16LE, SampleRate: testSampleRate}, 1)
}

func TestDetectorStartErrors(t *testing.T) {
	ctx := context.Background()

	d, err := NewDetector(DefaultConfig(), Callbacks{})
	require.NoError(t, err)

	err = d.Start(ctx, nil)
	assert.ErrorIs(t, err, ErrCaptureUnavailable)

	err = d.Start(ctx, raw.New(bytes.NewReader(nil), audio.EncodingPCM{PCMFormat: audio.PCMFormatS16LE}, 1))
	assert.ErrorIs(t, err, ErrCaptureUnavailable)

	pr, pw := io.Pipe()
	defer pw.Close()
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))
	err = d.Start(ctx, newRawCapture(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	err = d.ProcessFrame(ctx, make([]float64, DefaultFrameSize), testSampleRate)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	require.NoError(t, d.Stop())
	require.NoError(t, d.Stop())

	d, err = NewDetector(DefaultConfig(), Callbacks{}, WithFFT(nil))
	require.NoError(t, err)
	err = d.Start(ctx, newRawCapture(bytes.NewReader(nil)))
	assert.ErrorIs(t, err, spectrum.ErrNoFFT)
}

func TestDetectorEndOfStream(t *testing.T) {
	cfg := DefaultConfig()
	log := newEventLog()
	d, err := NewDetector(cfg, log.Callbacks(), WithMeter(newLevelMeter(-60)))
	require.NoError(t, err)

	data := encodeFrames(cfg, 5)
	// a trailing incomplete frame is ignored
	data = append(data, 0, 0, 0, 0)
	require.NoError(t, d.Start(context.Background(), newRawCapture(bytes.NewReader(data))))
	require.NoError(t, d.Wait(context.Background()))

	assert.Len(t, log.OfType(EventTypeVolumeChange), 5)
	assert.Empty(t, log.OfType(EventTypeError))
}

func TestDetectorCaptureLost(t *testing.T) {
	cfg := DefaultConfig()
	log := newEventLog()
	d, err := NewDetector(cfg, log.Callbacks(), WithMeter(newLevelMeter(-20)))
	require.NoError(t, err)

	errUnplugged := errors.New("unplugged")
	r := io.MultiReader(bytes.NewReader(encodeFrames(cfg, 3)), iotest.ErrReader(errUnplugged))
	require.NoError(t, d.Start(context.Background(), newRawCapture(r)))

	err = d.Wait(context.Background())
	require.ErrorIs(t, err, ErrCaptureLost)
	require.ErrorIs(t, err, errUnplugged)

	errEvents := log.OfType(EventTypeError)
	require.Len(t, errEvents, 1)
	assert.ErrorIs(t, errEvents[0].Err, ErrCaptureLost)
	assert.Len(t, log.OfType(EventTypeSpeechStart), 1)

	// the session was cleaned up as if Stop was called
	assert.False(t, d.IsSpeaking())
	assert.Equal(t, cfg.InitialNoiseFloor, d.NoiseFloor())
	assert.NoError(t, d.Stop())
}

func TestDetectorStopStart(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	log := newEventLog()
	meter := newLevelMeter(-20)
	d, err := NewDetector(cfg, log.Callbacks(), WithMeter(meter))
	require.NoError(t, err)

	feed := func(w io.Writer) {
		frame := encodeFrames(cfg, 1)
		for {
			if _, err := w.Write(frame); err != nil {
				return
			}
		}
	}

	pr, pw := io.Pipe()
	go feed(pw)
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))
	log.WaitFor(t, EventTypeSpeechStart)
	require.True(t, d.IsSpeaking())
	d.SetNoiseFloor(-70)

	require.NoError(t, d.Stop())
	assert.False(t, d.IsSpeaking())
	assert.Equal(t, cfg.InitialNoiseFloor, d.NoiseFloor())
	assert.Equal(t, cfg.MinLevel, d.Volume())
	assert.NoError(t, d.Wait(ctx))
	assert.Empty(t, log.OfType(EventTypeSpeechEnd), "Stop must not emit a speech end")

	meter.Set(-60)
	log.DrainNotifications()
	pr, pw = io.Pipe()
	go feed(pw)
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))
	log.WaitFor(t, EventTypeVolumeChange)
	assert.False(t, d.IsSpeaking())
	require.NoError(t, d.Stop())
}

func TestDetectorStopFromCallback(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()

	var d *Detector
	stoppedCh := make(chan error, 1)
	callbacks := Callbacks{
		OnSpeechStart: func(Event) {
			stoppedCh <- d.Stop()
		},
	}
	d, err := NewDetector(cfg, callbacks, WithMeter(newLevelMeter(-20)))
	require.NoError(t, err)

	pr, pw := io.Pipe()
	go func() {
		frame := encodeFrames(cfg, 1)
		for {
			if _, err := pw.Write(frame); err != nil {
				return
			}
		}
	}()
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))

	select {
	case err := <-stoppedCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop called from a callback has hung")
	}
	assert.NoError(t, d.Wait(ctx))
}

func TestDetectorStartContextCancel(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), Callbacks{}, WithMeter(newLevelMeter(-60)))
	require.NoError(t, err)

	pr, pw := io.Pipe()
	defer pw.Close()
	ctx, cancelFn := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))
	// let the session block on reading the idle pipe
	time.Sleep(100 * time.Millisecond)
	cancelFn()

	waitCtx, waitCancelFn := context.WithTimeout(context.Background(), 5*time.Second)
	defer waitCancelFn()
	require.NoError(t, d.Wait(waitCtx))

	pr, pw = io.Pipe()
	defer pw.Close()
	require.NoError(t, d.Start(context.Background(), newRawCapture(pr)))
	require.NoError(t, d.Stop())
}

// stuckReader blocks until released and cannot be closed.
type stuckReader struct {
	releaseCh chan struct{}
}

func (r stuckReader) Read([]byte) (int, error) {
	<-r.releaseCh
	return 0, io.EOF
}

func TestDetectorStopUnclosableCapture(t *testing.T) {
	ctx := context.Background()
	log := newEventLog()
	d, err := NewDetector(DefaultConfig(), log.Callbacks(), WithMeter(newLevelMeter(-20)))
	require.NoError(t, err)

	stuck := stuckReader{releaseCh: make(chan struct{})}
	require.NoError(t, d.Start(ctx, newRawCapture(stuck)))

	stoppedCh := make(chan error, 1)
	go func() { stoppedCh <- d.Stop() }()
	select {
	case err := <-stoppedCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop has hung on a blocked read")
	}

	pr, pw := io.Pipe()
	defer pw.Close()
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))

	// the old session ends late and must not touch the new one
	close(stuck.releaseCh)
	time.Sleep(100 * time.Millisecond)
	assert.ErrorIs(t, d.Start(ctx, newRawCapture(bytes.NewReader(nil))), ErrAlreadyStarted)
	require.NoError(t, d.Stop())
	assert.NoError(t, d.Wait(ctx))
}

func TestDetectorProcessFrameDuringStart(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	log := newEventLog()
	d, err := NewDetector(cfg, log.Callbacks(), WithMeter(newLevelMeter(-60)))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		processed atomic.Int64
	)
	pr, pw := io.Pipe()
	defer pw.Close()
	frame := make([]float64, cfg.FrameSize)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				err := d.ProcessFrame(ctx, frame, testSampleRate)
				if err == nil {
					processed.Add(1)
					continue
				}
				assert.ErrorIs(t, err, ErrAlreadyStarted)
			}
		}()
	}
	require.NoError(t, d.Start(ctx, newRawCapture(pr)))
	wg.Wait()

	// nothing is read from the idle pipe, so every volume event came from a
	// frame pushed before Start
	assert.Len(t, log.OfType(EventTypeVolumeChange), int(processed.Load()))
	require.NoError(t, d.Stop())
}
