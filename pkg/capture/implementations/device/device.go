// Package device provides a capture.Capture of a live input device.
//
// The device back-end pushes samples from its own thread; they are kept
// in a ring buffer until the consumer reads them, so a slow consumer
// never blocks the device. When the ring buffer is full the newly
// arrived chunk is dropped.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/iamcalledrob/circular"
	"github.com/xaionaro-go/datacounter"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voiceactivity/pkg/audio"
	"github.com/xaionaro-go/voiceactivity/pkg/capture"
)

var (
	ErrStalled = errors.New("the capture device stopped delivering samples")
)

const (
	DefaultSampleRate     = audio.SampleRate(48000)
	DefaultChannels       = audio.Channel(1)
	DefaultPCMFormat      = audio.PCMFormatFloat32LE
	DefaultBufferDuration = 2 * time.Second
	DefaultStallTimeout   = 2 * time.Second
)

type Config struct {
	SampleRate     audio.SampleRate
	Channels       audio.Channel
	PCMFormat      audio.PCMFormat
	BufferDuration time.Duration

	// StallTimeout is how long the device may stay silent (deliver
	// no data at all) before the capture is considered lost.
	// Zero disables the check.
	StallTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:     DefaultSampleRate,
		Channels:       DefaultChannels,
		PCMFormat:      DefaultPCMFormat,
		BufferDuration: DefaultBufferDuration,
		StallTimeout:   DefaultStallTimeout,
	}
}

type Capture struct {
	config        Config
	recorder      audio.RecorderPCM
	stream        audio.RecordStream
	counter       *datacounter.WriterCounter
	cancelFunc    context.CancelFunc
	closeOnce     sync.Once
	closeErr      error
	watchdogEndCh chan struct{}

	locker       sync.Mutex
	buffer       *circular.Buffer
	capacity     int
	buffered     int
	droppedBytes uint64
	lastWriteAt  time.Time
	writtenCh    chan struct{}
	err          error
	isClosed     bool
}

var _ capture.Capture = (*Capture)(nil)

// New opens the default input device of the first working back-end.
func New(
	ctx context.Context,
	cfg Config,
) (*Capture, error) {
	recorder, err := audio.NewRecorderAuto(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to open a recorder: %w", err)
	}
	c, err := NewWithRecorder(ctx, recorder, cfg)
	if err != nil {
		recorder.Close()
		return nil, err
	}
	return c, nil
}

// NewWithRecorder starts recording using the given recorder. The
// recorder is closed together with the capture.
func NewWithRecorder(
	ctx context.Context,
	recorder audio.RecorderPCM,
	cfg Config,
) (_ret *Capture, _err error) {
	logger.Tracef(ctx, "NewWithRecorder")
	defer func() { logger.Tracef(ctx, "/NewWithRecorder: %v", _err) }()

	if cfg.PCMFormat.Size() == 0 {
		return nil, fmt.Errorf("unsupported PCM format: %v", cfg.PCMFormat)
	}
	if cfg.Channels == 0 || cfg.SampleRate == 0 {
		return nil, fmt.Errorf("the amount of channels and the sample rate must be positive")
	}
	if cfg.BufferDuration <= 0 {
		cfg.BufferDuration = DefaultBufferDuration
	}

	encoding := audio.EncodingPCM{
		PCMFormat:  cfg.PCMFormat,
		SampleRate: cfg.SampleRate,
	}
	frameBytes := int(encoding.BytesPerSample()) * int(cfg.Channels)
	capacity := int(encoding.BytesForDuration(cfg.BufferDuration)) * int(cfg.Channels)
	capacity -= capacity % frameBytes
	if capacity < frameBytes {
		capacity = frameBytes
	}

	ctx, cancelFn := context.WithCancel(ctx)
	c := &Capture{
		config:     cfg,
		recorder:   recorder,
		cancelFunc: cancelFn,
		buffer:     circular.NewBuffer(capacity + 1),
		capacity:   capacity,
		writtenCh:  make(chan struct{}),
		// the watchdog grace period starts from the moment recording was requested
		lastWriteAt: time.Now(),
	}
	c.counter = datacounter.NewWriterCounter(bufferWriter{c})

	stream, err := recorder.RecordPCM(ctx, cfg.SampleRate, cfg.Channels, cfg.PCMFormat, c.counter)
	if err != nil {
		cancelFn()
		return nil, fmt.Errorf("unable to start recording: %w", err)
	}
	c.stream = stream

	if cfg.StallTimeout > 0 {
		c.watchdogEndCh = make(chan struct{})
		observability.Go(ctx, func() {
			defer close(c.watchdogEndCh)
			c.watchdogLoop(ctx)
		})
	}
	return c, nil
}

type bufferWriter struct {
	c *Capture
}

// Write is called from the device thread; it never blocks on the consumer.
func (w bufferWriter) Write(p []byte) (int, error) {
	c := w.c
	c.locker.Lock()
	defer c.locker.Unlock()
	if c.isClosed {
		return 0, io.ErrClosedPipe
	}
	c.lastWriteAt = time.Now()

	if len(p) > c.capacity-c.buffered {
		c.droppedBytes += uint64(len(p))
		return len(p), nil
	}
	n, err := c.buffer.Write(p)
	c.buffered += n
	if err != nil {
		if !errors.Is(err, circular.ErrNoSpace) {
			return n, fmt.Errorf("unable to write to the circular buffer: %w", err)
		}
		c.droppedBytes += uint64(len(p) - n)
	}
	c.signalLocked()
	return len(p), nil
}

func (c *Capture) signalLocked() {
	var oldCh chan struct{}
	oldCh, c.writtenCh = c.writtenCh, make(chan struct{})
	close(oldCh)
}

// Read blocks until there is data, the capture is closed (io.EOF) or
// the device is lost.
func (c *Capture) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		c.locker.Lock()
		if c.buffered > 0 {
			n, err := c.buffer.Read(p)
			c.buffered -= n
			c.locker.Unlock()
			if err != nil && !errors.Is(err, io.EOF) {
				return n, fmt.Errorf("unable to read from the circular buffer: %w", err)
			}
			return n, nil
		}
		if c.err != nil {
			err := c.err
			c.locker.Unlock()
			return 0, err
		}
		if c.isClosed {
			c.locker.Unlock()
			return 0, io.EOF
		}
		waitCh := c.writtenCh
		c.locker.Unlock()
		<-waitCh
	}
}

func (c *Capture) watchdogLoop(ctx context.Context) {
	logger.Tracef(ctx, "watchdogLoop")
	defer logger.Tracef(ctx, "/watchdogLoop")

	t := time.NewTicker(c.config.StallTimeout / 4)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		c.locker.Lock()
		silentFor := time.Since(c.lastWriteAt)
		if silentFor > c.config.StallTimeout {
			logger.Errorf(ctx, "no data from the device for %v", silentFor)
			c.err = fmt.Errorf("%w: no data for %v", ErrStalled, silentFor)
			c.signalLocked()
			c.locker.Unlock()
			return
		}
		c.locker.Unlock()
	}
}

// CapturedBytes returns the total amount of bytes received from the device.
func (c *Capture) CapturedBytes() uint64 {
	return c.counter.Count()
}

// DroppedBytes returns the amount of bytes discarded due to a full buffer.
func (c *Capture) DroppedBytes() uint64 {
	c.locker.Lock()
	defer c.locker.Unlock()
	return c.droppedBytes
}

func (c *Capture) Close() error {
	c.closeOnce.Do(func() {
		c.locker.Lock()
		c.isClosed = true
		c.signalLocked()
		c.locker.Unlock()

		c.cancelFunc()
		if c.watchdogEndCh != nil {
			<-c.watchdogEndCh
		}

		var mErr *multierror.Error
		if err := c.stream.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the record stream: %w", err))
		}
		if err := c.recorder.Close(); err != nil {
			mErr = multierror.Append(mErr, fmt.Errorf("unable to close the recorder: %w", err))
		}
		c.closeErr = mErr.ErrorOrNil()
	})
	return c.closeErr
}

func (c *Capture) Encoding(
	ctx context.Context,
) (audio.Encoding, error) {
	return audio.EncodingPCM{
		PCMFormat:  c.config.PCMFormat,
		SampleRate: c.config.SampleRate,
	}, nil
}

func (c *Capture) Channels(
	ctx context.Context,
) (audio.Channel, error) {
	return c.config.Channels, nil
}
