package app

import "errors"

var (
	// ErrEmptyPrompt indicates the submission had no usable prompt text.
	ErrEmptyPrompt = errors.New("prompt is required")
	// ErrUnknownProvider indicates the submission named an unregistered provider.
	ErrUnknownProvider = errors.New("unknown video provider")
)
