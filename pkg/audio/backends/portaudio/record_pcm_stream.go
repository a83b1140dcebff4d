package portaudio

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
	"unsafe"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/gordonklaus/portaudio"
	"github.com/xaionaro-go/observability"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

const (
	RecordBufferSize = time.Millisecond * 20
)

type RecordPCMStream struct {
	PortAudioStream *portaudio.Stream
	InputBuffer     []byte
	Writer          io.Writer
	CancelFunc      context.CancelFunc
	WaitGroup       sync.WaitGroup
	closeOnce       sync.Once
	closeErr        error
}

var _ types.RecordStream = (*RecordPCMStream)(nil)

func newRecordPCMStream[T uint8 | int16 | int32 | float32](
	ctx context.Context,
	sampleRate types.SampleRate,
	channels types.Channel,
) (*RecordPCMStream, error) {
	framesPerBuffer := int(RecordBufferSize.Seconds() * float64(sampleRate))

	var sample T
	buf := make([]T, framesPerBuffer*int(channels))
	logger.Debugf(ctx, "newRecordPCMStream: %T, %d, %d %s(%d)", sample, sampleRate, channels, RecordBufferSize, framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(int(channels), 0, float64(sampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}

	ptr := unsafe.SliceData(buf)
	return &RecordPCMStream{
		PortAudioStream: stream,
		InputBuffer:     unsafe.Slice((*byte)(unsafe.Pointer(ptr)), len(buf)*int(unsafe.Sizeof(sample))),
	}, nil
}

func (s *RecordPCMStream) start(
	ctx context.Context,
	writer io.Writer,
) error {
	s.Writer = writer
	ctx, s.CancelFunc = context.WithCancel(ctx)

	if err := s.PortAudioStream.Start(); err != nil {
		return fmt.Errorf("unable to start the stream: %w", err)
	}

	s.WaitGroup.Add(1)
	observability.Go(ctx, func() {
		defer s.WaitGroup.Done()
		err := s.readerLoop(ctx)
		logger.Debugf(ctx, "the reader loop ended: %v", err)
	})
	return nil
}

func (s *RecordPCMStream) readerLoop(
	ctx context.Context,
) (_ret error) {
	logger.Debugf(ctx, "readerLoop")
	defer func() { logger.Debugf(ctx, "/readerLoop: %v", _ret) }()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		logger.Tracef(ctx, "Read")
		err := s.PortAudioStream.Read()
		logger.Tracef(ctx, "/Read: %v", err)
		if err != nil {
			return fmt.Errorf("unable to read: %w", err)
		}

		n, err := s.Writer.Write(s.InputBuffer)
		if err != nil {
			return fmt.Errorf("unable to write: %w", err)
		}
		if n != len(s.InputBuffer) {
			return fmt.Errorf("invalid write length: %d != %d", n, len(s.InputBuffer))
		}
	}
}

func (s *RecordPCMStream) Close() error {
	s.closeOnce.Do(func() {
		if s.CancelFunc != nil {
			s.CancelFunc()
		}
		if err := s.PortAudioStream.Abort(); err != nil {
			logger.Debugf(context.Background(), "unable to abort the stream: %v", err)
		}
		s.WaitGroup.Wait()
		s.closeErr = s.PortAudioStream.Close()
	})
	return s.closeErr
}
