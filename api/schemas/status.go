// api/schemas/status.go
package schemas

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// -- Status Codes --

// StatusCode enumerates the outcome of a resolution or interaction.
type StatusCode int

const (
	ActionApplied StatusCode = iota
	OtherActionStatus
	InvalidSelector
	PreconditionFailed
	ElementResolutionFailed
	TooManyElements
	TimedOut
	ElementUnstable
	OptionValueNotFound
	AutofillIncomplete
	UnexpectedError
	// FrameHostNotFound reports that the frame owning an element was torn
	// down while an operation against it was outstanding.
	FrameHostNotFound
	InvalidAction
	// ElementNotOnTop reports that another element covers the target's centre.
	ElementNotOnTop
)

var statusNames = map[StatusCode]string{
	ActionApplied:           "ACTION_APPLIED",
	OtherActionStatus:       "OTHER_ACTION_STATUS",
	InvalidSelector:         "INVALID_SELECTOR",
	PreconditionFailed:      "PRECONDITION_FAILED",
	ElementResolutionFailed: "ELEMENT_RESOLUTION_FAILED",
	TooManyElements:         "TOO_MANY_ELEMENTS",
	TimedOut:                "TIMED_OUT",
	ElementUnstable:         "ELEMENT_UNSTABLE",
	OptionValueNotFound:     "OPTION_VALUE_NOT_FOUND",
	AutofillIncomplete:      "AUTOFILL_INCOMPLETE",
	UnexpectedError:         "UNEXPECTED_ERROR",
	FrameHostNotFound:       "FRAME_HOST_NOT_FOUND",
	InvalidAction:           "INVALID_ACTION",
	ElementNotOnTop:         "ELEMENT_NOT_ON_TOP",
}

func (c StatusCode) String() string {
	if name, ok := statusNames[c]; ok {
		return name
	}
	return fmt.Sprintf("STATUS_%d", int(c))
}

// ParseStatusCode is the inverse of StatusCode.String. Unknown names map to OtherActionStatus.
func ParseStatusCode(s string) StatusCode {
	for code, name := range statusNames {
		if strings.EqualFold(name, s) {
			return code
		}
	}
	return OtherActionStatus
}

// -- Status Details --

// UnexpectedErrorInfo describes a failure reported by the protocol layer or by
// a helper script running in the page.
type UnexpectedErrorInfo struct {
	// SourceFile and SourceLine identify the engine call site that observed the failure.
	SourceFile string `json:"source_file,omitempty"`
	SourceLine int    `json:"source_line,omitempty"`
	// ProtocolError is set when the remote call itself failed (no reply, transport error).
	ProtocolError string `json:"protocol_error,omitempty"`
	// JSExceptionClass and JSExceptionMessage are set when the reply carried exception details.
	JSExceptionClass   string `json:"js_exception_classname,omitempty"`
	JSExceptionMessage string `json:"js_exception_message,omitempty"`
	JSExceptionLine    int64  `json:"js_exception_line,omitempty"`
	JSExceptionColumn  int64  `json:"js_exception_column,omitempty"`
}

// AutofillFieldErrorKind classifies a required field that could not be satisfied.
type AutofillFieldErrorKind string

const (
	NoFallbackValue      AutofillFieldErrorKind = "no_fallback_value"
	EmptyAfterFallback   AutofillFieldErrorKind = "empty_after_fallback"
	ForcedFieldNotFilled AutofillFieldErrorKind = "forced_field_not_filled"
)

// AutofillFieldError is one entry of the per-field report produced by the fallback handler.
type AutofillFieldError struct {
	ValueExpression string                 `json:"value_expression"`
	Selector        Selector               `json:"selector"`
	Kind            AutofillFieldErrorKind `json:"kind,omitempty"`
	// Status is set instead of Kind when a fill attempt itself failed for this field.
	Status StatusCode `json:"status,omitempty"`
}

// AutofillErrorInfo accumulates the per-field errors of a fallback pass.
type AutofillErrorInfo struct {
	// UpstreamStatus is the status of the bulk fill that preceded the fallback.
	UpstreamStatus StatusCode           `json:"upstream_status"`
	FieldErrors    []AutofillFieldError `json:"field_errors"`
}

// StatusDetails carries the optional structured payload of a ClientStatus.
type StatusDetails struct {
	Unexpected *UnexpectedErrorInfo `json:"unexpected_error_info,omitempty"`
	Autofill   *AutofillErrorInfo   `json:"autofill_error_info,omitempty"`
	Finder     *ElementFinderInfo   `json:"element_finder_info,omitempty"`
}

// -- ClientStatus --

// ClientStatus is the single error type threaded through the engine. A nil
// error is equivalent to a ClientStatus with code ActionApplied.
type ClientStatus struct {
	Code    StatusCode
	Message string
	Details StatusDetails
	cause   error
}

// NewStatus creates a status with the given code.
func NewStatus(code StatusCode) *ClientStatus {
	return &ClientStatus{Code: code}
}

// Statusf creates a status with the given code and a formatted message.
func Statusf(code StatusCode, format string, args ...interface{}) *ClientStatus {
	return &ClientStatus{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapStatus creates a status that records err as its cause.
func WrapStatus(code StatusCode, err error) *ClientStatus {
	s := &ClientStatus{Code: code, cause: err}
	if err != nil {
		s.Message = err.Error()
	}
	return s
}

func (s *ClientStatus) Error() string {
	if s.Message == "" {
		return s.Code.String()
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

func (s *ClientStatus) Unwrap() error { return s.cause }

// Is matches another *ClientStatus by code so errors.Is(err, NewStatus(TimedOut)) works.
func (s *ClientStatus) Is(target error) bool {
	var other *ClientStatus
	if errors.As(target, &other) {
		return other.Code == s.Code
	}
	return false
}

// OK reports whether the status represents success.
func (s *ClientStatus) OK() bool { return s == nil || s.Code == ActionApplied }

// WithUnexpected attaches protocol/script failure details.
func (s *ClientStatus) WithUnexpected(info UnexpectedErrorInfo) *ClientStatus {
	s.Details.Unexpected = &info
	return s
}

// WithAutofill attaches per-field fallback details.
func (s *ClientStatus) WithAutofill(info AutofillErrorInfo) *ClientStatus {
	s.Details.Autofill = &info
	return s
}

// WithFinder attaches element finder diagnostics.
func (s *ClientStatus) WithFinder(info ElementFinderInfo) *ClientStatus {
	s.Details.Finder = &info
	return s
}

// StatusOf normalizes any error into a *ClientStatus. Nil maps to ActionApplied.
// Context deadlines become TimedOut; anything else that is not already a
// ClientStatus is reported as UnexpectedError.
func StatusOf(err error) *ClientStatus {
	if err == nil {
		return NewStatus(ActionApplied)
	}
	var s *ClientStatus
	if errors.As(err, &s) {
		return s
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return WrapStatus(TimedOut, err)
	}
	return WrapStatus(UnexpectedError, err).WithUnexpected(UnexpectedErrorInfo{ProtocolError: err.Error()})
}

// CodeOf is shorthand for StatusOf(err).Code.
func CodeOf(err error) StatusCode {
	return StatusOf(err).Code
}

// IsStatus reports whether err carries the given code.
func IsStatus(err error, code StatusCode) bool {
	return CodeOf(err) == code
}
