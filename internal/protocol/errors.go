package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrFrameInvalid    = errors.New("invalid frame")
	ErrChecksum        = errors.New("checksum mismatch")
	ErrMalformedHeader = errors.New("malformed header")

	// ErrInsufficientContext is returned by count dependent commands when
	// the cell/sensor counts are unknown (status was never read).
	ErrInsufficientContext = errors.New("get status must be called first")
)

type Reason int

const (
	ReasonHeader Reason = iota
	ReasonLength
	ReasonChecksum
	ReasonSequence
)

func (r Reason) String() string {
	switch r {
	case ReasonHeader:
		return "malformed header"
	case ReasonLength:
		return "invalid length"
	case ReasonChecksum:
		return "checksum mismatch"
	case ReasonSequence:
		return "frame out of order"
	default:
		return fmt.Sprintf("reason(%d)", int(r))
	}
}

// FrameError describes why a received frame was rejected.
type FrameError struct {
	Reason Reason
	Raw    []byte
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("invalid frame: %s [% X]", e.Reason, e.Raw)
}

func (e *FrameError) Is(target error) bool {
	switch target {
	case ErrFrameInvalid:
		return true
	case ErrChecksum:
		return e.Reason == ReasonChecksum
	case ErrMalformedHeader:
		return e.Reason == ReasonHeader || e.Reason == ReasonLength
	}
	return false
}
