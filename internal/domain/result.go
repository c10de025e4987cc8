package domain

import "fmt"

// Status is the terminal outcome of one webhook pipeline invocation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusIgnored Status = "ignored"
	StatusError   Status = "error"
)

// Result is returned to the webhook caller as the response body.
type Result struct {
	Status  Status `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// FailKind classifies an inference backend failure.
type FailKind string

const (
	FailUnreachable FailKind = "unreachable"
	FailTimeout     FailKind = "timeout"
	FailBadSchema   FailKind = "bad_schema"
)

// InferenceError is a classified inference failure. The pipeline converts any
// of these into an apologetic reply instead of aborting.
type InferenceError struct {
	Kind FailKind
	Err  error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("inference failed: %s", e.Kind)
	}
	return fmt.Sprintf("inference failed (%s): %v", e.Kind, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }
