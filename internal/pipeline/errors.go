package pipeline

import "fmt"

// IOError reports that an input could not be opened or read.
type IOError struct {
	Input string
	Err   error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("open %s: %v", e.Input, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// DetectionError wraps any failure inside the decode and inference loop.
// Frame is the 1-based index being processed when it failed.
type DetectionError struct {
	Video string
	Frame int
	Err   error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection %s failed at frame %d: %v", e.Video, e.Frame, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
