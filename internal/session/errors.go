package session

import "errors"

var (
	ErrAlreadyRecording   = errors.New("recording already in progress")
	ErrNoActiveTab        = errors.New("no active tab available to capture")
	ErrCaptureUnavailable = errors.New("tab capture unavailable")
	ErrEmptyQuery         = errors.New("query text is required")
	ErrUploadFailed       = errors.New("upload failed")
	ErrFinalizeFailed     = errors.New("finalize failed")
	ErrCaptureDriver      = errors.New("capture driver error")
)
