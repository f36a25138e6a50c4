package graph

import "fmt"

// Engine error codes. Codes are stable identifiers for programmatic
// handling; messages are for humans and may change.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeCircuitBreaker = "CIRCUIT_BREAKER_TRIPPED"
	CodeDeadline       = "DEADLINE_EXCEEDED"
	CodeNodeFailure    = "NODE_FAILURE"
	CodeRouting        = "ROUTING_ERROR"
	CodeInternal       = "INTERNAL"
)

// EngineError is the error type returned by graph compilation and execution.
type EngineError struct {
	Code    string
	Message string
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newEngineError(code, format string, args ...interface{}) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsEngineCode reports whether err is an EngineError carrying the given code.
func IsEngineCode(err error, code string) bool {
	ee, ok := err.(*EngineError)
	return ok && ee.Code == code
}
