package vad

import (
	"fmt"
	"time"
)

type EventType int

const (
	EventTypeUndefined = EventType(iota)
	EventTypeSpeechStart
	EventTypeSpeechEnd
	EventTypeVolumeChange
	EventTypeNoiseFloorUpdate
	EventTypeError
)

func (t EventType) String() string {
	switch t {
	case EventTypeUndefined:
		return "undefined"
	case EventTypeSpeechStart:
		return "speech_start"
	case EventTypeSpeechEnd:
		return "speech_end"
	case EventTypeVolumeChange:
		return "volume_change"
	case EventTypeNoiseFloorUpdate:
		return "noise_floor_update"
	case EventTypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown_event_type_%d", int(t))
	}
}

// IsTelemetry returns true for events that may be dropped if the
// consumer does not keep up.
func (t EventType) IsTelemetry() bool {
	switch t {
	case EventTypeVolumeChange, EventTypeNoiseFloorUpdate:
		return true
	default:
		return false
	}
}

type Event struct {
	Type      EventType
	Timestamp time.Time

	VolumeDb     float64
	NoiseFloorDb float64

	// SpeechStartedAt is set for EventTypeSpeechStart and
	// EventTypeSpeechEnd; it already includes the pre-speech padding.
	SpeechStartedAt time.Time

	// SilenceSince is set for EventTypeSpeechEnd: the moment the
	// silence that ended the speech began.
	SilenceSince time.Time

	// Err is set for EventTypeError.
	Err error
}

// Callbacks are the consumers of the detector events. Nil callbacks
// are skipped.
type Callbacks struct {
	OnSpeechStart      func(Event)
	OnSpeechEnd        func(Event)
	OnVolumeChange     func(Event)
	OnNoiseFloorUpdate func(Event)
	OnError            func(Event)
}

func (c Callbacks) call(ev Event) {
	var fn func(Event)
	switch ev.Type {
	case EventTypeSpeechStart:
		fn = c.OnSpeechStart
	case EventTypeSpeechEnd:
		fn = c.OnSpeechEnd
	case EventTypeVolumeChange:
		fn = c.OnVolumeChange
	case EventTypeNoiseFloorUpdate:
		fn = c.OnNoiseFloorUpdate
	case EventTypeError:
		fn = c.OnError
	}
	if fn != nil {
		fn(ev)
	}
}
