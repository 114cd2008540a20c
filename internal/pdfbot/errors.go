package pdfbot

import (
	"errors"
	"fmt"
)

// Kind classifies an operation failure so the transport layer can render a
// user-facing message without parsing error strings.
type Kind int

const (
	KindUnknown Kind = iota
	KindFileTooLarge
	KindInvalidFilename
	KindStorage
	KindInsufficientFiles
	KindFileNotFound
	KindInvalidPageRange
	KindInvalidPreset
	KindTooManyPages
	KindExternalTool
	KindToolTimeout
	KindSessionBusy
	KindSessionExpired
)

func (k Kind) String() string {
	switch k {
	case KindFileTooLarge:
		return "file too large"
	case KindInvalidFilename:
		return "invalid filename"
	case KindStorage:
		return "storage error"
	case KindInsufficientFiles:
		return "insufficient files"
	case KindFileNotFound:
		return "file not found"
	case KindInvalidPageRange:
		return "invalid page range"
	case KindInvalidPreset:
		return "invalid preset"
	case KindTooManyPages:
		return "too many pages"
	case KindExternalTool:
		return "external tool error"
	case KindToolTimeout:
		return "tool timeout"
	case KindSessionBusy:
		return "session busy"
	case KindSessionExpired:
		return "session expired"
	default:
		return "unknown error"
	}
}

// OpError is the structured failure returned by Service operations.
// Kind identifies the failure class; Detail is safe to show to the user.
type OpError struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *OpError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *OpError) Unwrap() error { return e.Err }

// E creates an OpError with no underlying cause.
func E(kind Kind, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// WrapE creates an OpError wrapping an underlying cause.
func WrapE(kind Kind, err error, format string, args ...any) *OpError {
	return &OpError{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the Kind carried by err, unwrapping as needed.
// Returns KindUnknown for errors that did not originate in this package.
func KindOf(err error) Kind {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Kind
	}
	return KindUnknown
}

// ToolReason subclassifies an external tool failure.
type ToolReason string

const (
	ToolReasonCorrupt   ToolReason = "corrupt"
	ToolReasonEncrypted ToolReason = "encrypted"
	ToolReasonCrashed   ToolReason = "crashed"
)

// ToolError reports a failed external tool invocation with its sub-reason
// and the tail of the tool's stderr.
type ToolError struct {
	Tool   string
	Reason ToolReason
	Stderr string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Tool, e.Reason, e.Stderr)
}
