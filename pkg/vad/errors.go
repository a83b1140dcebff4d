package vad

import (
	"errors"
)

var (
	ErrCaptureUnavailable = errors.New("the audio capture is unavailable")
	ErrCaptureLost        = errors.New("the audio capture was lost")
	ErrInvalidConfig      = errors.New("invalid configuration")
	ErrAlreadyStarted     = errors.New("the detector is already started")
)
