package portaudio

import (
	"github.com/xaionaro-go/voiceactivity/pkg/audio/registry"
	"github.com/xaionaro-go/voiceactivity/pkg/audio/types"
)

const (
	Priority = 60
)

func init() {
	registry.RegisterRecorderFactory(Priority, RecorderPCMFactory{})
}

type RecorderPCMFactory struct{}

func (RecorderPCMFactory) NewRecorderPCM() (types.RecorderPCM, error) {
	return NewRecorderPCM()
}
