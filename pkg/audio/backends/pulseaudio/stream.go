package pulseaudio

import (
	"fmt"

	"github.com/jfreymuth/pulse"
)

type RecordStream struct {
	*pulse.RecordStream
}

// Close stops the recording. The client is owned by the RecorderPCM
// and is not closed here.
func (stream *RecordStream) Close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.RecordStream.Stop()
	stream.RecordStream.Close()
	return stream.RecordStream.Error()
}

type PlayStream struct {
	*pulse.PlaybackStream
}

func (stream *PlayStream) Drain() error {
	stream.PlaybackStream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("an error occurred during playback: %w", err)
	}
	if stream.Underflow() {
		return fmt.Errorf("underflow")
	}
	return nil
}

func (stream *PlayStream) Close() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("got a panic: %v", r)
		}
	}()
	stream.PlaybackStream.Stop()
	stream.PlaybackStream.Close()
	return nil
}
