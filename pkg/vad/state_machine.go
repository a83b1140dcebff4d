package vad

import (
	"fmt"
	"time"
)

type State int

const (
	StateSilent = State(iota)
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateSilent:
		return "silent"
	case StateSpeaking:
		return "speaking"
	default:
		return fmt.Sprintf("unknown_state_%d", int(s))
	}
}

type Transition int

const (
	TransitionNone = Transition(iota)
	TransitionSpeechStart
	TransitionSpeechEnd
)

type StepResult struct {
	Transition      Transition
	SpeechStartedAt time.Time
	SilenceSince    time.Time
}

// SpeechStateMachine decides speech boundaries from the volume relative
// to the noise floor. It has a wide hysteresis band (VoiceThreshold to
// enter, SilenceThreshold to leave) and requires the silence to last
// PostSpeechPadding before ending the speech.
type SpeechStateMachine struct {
	state           State
	speechStartedAt time.Time
	silenceSince    time.Time
}

// Step processes one frame; aboveFloorDb is the volume minus the noise floor.
func (m *SpeechStateMachine) Step(aboveFloorDb float64, now time.Time, cfg Config) StepResult {
	switch m.state {
	case StateSilent:
		if aboveFloorDb <= cfg.VoiceThreshold {
			return StepResult{}
		}
		m.state = StateSpeaking
		m.speechStartedAt = now.Add(-cfg.PreSpeechPadding)
		m.silenceSince = time.Time{}
		return StepResult{
			Transition:      TransitionSpeechStart,
			SpeechStartedAt: m.speechStartedAt,
		}

	case StateSpeaking:
		if aboveFloorDb >= cfg.SilenceThreshold {
			m.silenceSince = time.Time{}
			return StepResult{}
		}
		if m.silenceSince.IsZero() {
			m.silenceSince = now
		}
		if now.Sub(m.silenceSince) <= cfg.PostSpeechPadding {
			return StepResult{}
		}
		result := StepResult{
			Transition:      TransitionSpeechEnd,
			SpeechStartedAt: m.speechStartedAt,
			SilenceSince:    m.silenceSince,
		}
		m.Reset()
		return result
	}
	return StepResult{}
}

func (m *SpeechStateMachine) State() State {
	return m.state
}

func (m *SpeechStateMachine) IsSpeaking() bool {
	return m.state == StateSpeaking
}

func (m *SpeechStateMachine) SpeechStartedAt() time.Time {
	return m.speechStartedAt
}

// PendingSilenceSince returns the start of the ongoing silence
// countdown, or zero if there is none.
func (m *SpeechStateMachine) PendingSilenceSince() time.Time {
	return m.silenceSince
}

func (m *SpeechStateMachine) Reset() {
	*m = SpeechStateMachine{}
}
