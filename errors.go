/*
Package fluentdynamo – mapping error types.
*/
package fluentdynamo

import "fmt"

// ErrorCode is a well-known error category string.
type ErrorCode string

const (
	ErrArgument     ErrorCode = "ArgumentError"
	ErrConversion   ErrorCode = "ConversionError"
	ErrKeyMaterial  ErrorCode = "IncompleteKeyMaterial"
	ErrConstruction ErrorCode = "EntityConstructionFailed"
	ErrValidation   ErrorCode = "ValidationError"
	ErrCipher       ErrorCode = "CipherError"
	ErrNotFound     ErrorCode = "NotFoundError"
	ErrRuntime      ErrorCode = "RuntimeError"
)

// MappingError is the general runtime error raised while converting between
// domain items and raw records. It carries an optional Code and a free-form
// Context map with the offending field name and record context.
type MappingError struct {
	Message string
	Code    ErrorCode
	Context map[string]any
	Cause   error
}

func (e *MappingError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

func (e *MappingError) Unwrap() error { return e.Cause }

// NewMappingError constructs a MappingError.
func NewMappingError(msg string, opts ...func(*MappingError)) *MappingError {
	err := &MappingError{Message: msg}
	for _, o := range opts {
		o(err)
	}
	return err
}

// WithCode sets the error code.
func WithCode(c ErrorCode) func(*MappingError) {
	return func(e *MappingError) { e.Code = c }
}

// WithContext attaches a context map.
func WithContext(ctx map[string]any) func(*MappingError) {
	return func(e *MappingError) { e.Context = ctx }
}

// WithCause wraps an underlying error.
func WithCause(cause error) func(*MappingError) {
	return func(e *MappingError) { e.Cause = cause }
}

// ArgError is for invalid argument / configuration errors.
type ArgError struct {
	Message string
	Code    ErrorCode
}

func (e *ArgError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// NewArgError constructs an ArgError.
func NewArgError(msg string, code ...ErrorCode) *ArgError {
	c := ErrArgument
	if len(code) > 0 {
		c = code[0]
	}
	return &ArgError{Message: msg, Code: c}
}
