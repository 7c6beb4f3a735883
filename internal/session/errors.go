package session

import (
	"errors"
	"fmt"
)

// Kind classifies session failures reported to the host
type Kind int

const (
	KindUnknown Kind = iota
	// PermissionMissing means start was requested without a capture grant
	PermissionMissing
	// PermissionDenied means the user or system refused capture
	PermissionDenied
	CaptureStartFailed
	CaptureStopFailed
	// OutputVerificationFailed means the file was missing or empty after stop
	OutputVerificationFailed
	SurfaceAttachFailed
)

func (k Kind) String() string {
	switch k {
	case PermissionMissing:
		return "permission missing"
	case PermissionDenied:
		return "permission denied"
	case CaptureStartFailed:
		return "capture start failed"
	case CaptureStopFailed:
		return "capture stop failed"
	case OutputVerificationFailed:
		return "output verification failed"
	case SurfaceAttachFailed:
		return "surface attach failed"
	default:
		return "unknown"
	}
}

// Error is a classified session failure
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the kind sentinels below
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Kind sentinels for errors.Is
var (
	ErrPermissionMissing        = &Error{Kind: PermissionMissing}
	ErrPermissionDenied         = &Error{Kind: PermissionDenied}
	ErrCaptureStartFailed       = &Error{Kind: CaptureStartFailed}
	ErrCaptureStopFailed        = &Error{Kind: CaptureStopFailed}
	ErrOutputVerificationFailed = &Error{Kind: OutputVerificationFailed}
	ErrSurfaceAttachFailed      = &Error{Kind: SurfaceAttachFailed}
)

var (
	// ErrInvalidState is returned for transitions the current state forbids
	ErrInvalidState = errors.New("invalid session state")
	// ErrNotRecording is returned when stopping with no recording in progress
	ErrNotRecording = errors.New("no recording in progress")
)

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
