package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrUnsupported indicates an audio format or backend is not supported
	ErrUnsupported = errors.New("unsupported")

	// ErrCorrupt indicates a file could not be decoded
	ErrCorrupt = errors.New("corrupt file")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingPrerequisite marks an input whose upstream metrics are absent
	ErrMissingPrerequisite = errors.New("missing prerequisite")

	// ErrInference indicates the inference server failed or timed out
	ErrInference = errors.New("inference failed")

	// ErrExternalTool indicates an external CLI (ffmpeg, mfa) failed
	ErrExternalTool = errors.New("external tool failed")
)
