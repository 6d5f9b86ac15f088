package features

import "fmt"

// DetectionError wraps any failure inside the blur, detection or overlay
// stages. No partial output accompanies it.
type DetectionError struct {
	Stage string
	Err   error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("features: %s: %v", e.Stage, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}

func detectionErr(stage string, err error) error {
	return &DetectionError{Stage: stage, Err: err}
}
