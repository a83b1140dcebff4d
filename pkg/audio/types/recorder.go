package types

import (
	"context"
	"io"
)

type RecorderPCM interface {
	io.Closer

	Ping(context.Context) error
	RecordPCM(
		ctx context.Context,
		sampleRate SampleRate,
		channels Channel,
		format PCMFormat,
		writer io.Writer,
	) (RecordStream, error)
}

// Stream is a handle of a running playback or capture.
type Stream interface {
	io.Closer
}

type RecordStream interface {
	Stream
}
