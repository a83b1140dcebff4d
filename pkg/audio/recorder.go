package audio

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/hashicorp/go-multierror"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/registry"
)

type Recorder struct {
	RecorderPCM
}

func NewRecorder(recorderPCM RecorderPCM) *Recorder {
	return &Recorder{
		RecorderPCM: recorderPCM,
	}
}

var (
	lastSuccessfulRecorderFactory       registry.RecorderPCMFactory
	lastSuccessfulRecorderFactoryLocker sync.Mutex
)

func getLastSuccessfulRecorderFactory() registry.RecorderPCMFactory {
	lastSuccessfulRecorderFactoryLocker.Lock()
	defer lastSuccessfulRecorderFactoryLocker.Unlock()
	return lastSuccessfulRecorderFactory
}

func setLastSuccessfulRecorderFactory(factory registry.RecorderPCMFactory) {
	lastSuccessfulRecorderFactoryLocker.Lock()
	defer lastSuccessfulRecorderFactoryLocker.Unlock()
	lastSuccessfulRecorderFactory = factory
}

// NewRecorderAuto returns a recorder of the first registered back-end
// (in the order of priority) that is able to reach a capture device.
//
// Unlike a player, a recorder has no meaningful dummy fallback: if no
// back-end works, the combined error of all of them is returned.
func NewRecorderAuto(
	ctx context.Context,
) (*Recorder, error) {
	if factory := getLastSuccessfulRecorderFactory(); factory != nil {
		recorder, err := tryRecorderFactory(ctx, factory)
		if err == nil {
			return NewRecorder(recorder), nil
		}
		logger.Debugf(ctx, "the previously successful recorder factory %T failed: %v", factory, err)
	}

	var mErr *multierror.Error
	for _, factory := range registry.RecorderFactories() {
		recorder, err := tryRecorderFactory(ctx, factory)
		if err != nil {
			mErr = multierror.Append(mErr, err)
			continue
		}

		setLastSuccessfulRecorderFactory(factory)
		return NewRecorder(recorder), nil
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, fmt.Errorf("was unable to initialize any PCM recorder: %w", err)
	}
	return nil, fmt.Errorf("no PCM recorder back-ends are registered")
}

func tryRecorderFactory(
	ctx context.Context,
	factory registry.RecorderPCMFactory,
) (RecorderPCM, error) {
	recorder, err := factory.NewRecorderPCM()
	logger.Debugf(ctx, "initializing recorder %T result is %v", recorder, err)
	if err != nil {
		return nil, fmt.Errorf("unable to initialize a recorder using %T: %w", factory, err)
	}

	err = recorder.Ping(ctx)
	logger.Debugf(ctx, "pinging PCM recorder %T result is %v", recorder, err)
	if err != nil {
		recorder.Close()
		return nil, fmt.Errorf("unable to ping %T: %w", recorder, err)
	}
	return recorder, nil
}

func (a *Recorder) RecordPCM(
	ctx context.Context,
	sampleRate SampleRate,
	channels Channel,
	pcmFormat PCMFormat,
	pcmWriter io.Writer,
) (RecordStream, error) {
	return a.RecorderPCM.RecordPCM(
		ctx,
		sampleRate,
		channels,
		pcmFormat,
		pcmWriter,
	)
}
