package kernel

import "errors"

// Sentinel errors returned by the execution pipeline, checked with
// errors.Is.
var (
	ErrPermissionDenied  = errors.New("kernel: permission denied")
	ErrTimeout           = errors.New("kernel: execution timed out")
	ErrCancelled         = errors.New("kernel: execution cancelled")
	ErrComponentNotFound = errors.New("kernel: component not found")
	ErrSchemaValidation  = errors.New("kernel: schema validation failed")
	ErrDuplicateName     = errors.New("kernel: component already registered")
	ErrRetriesExhausted  = errors.New("kernel: retries exhausted")
)
