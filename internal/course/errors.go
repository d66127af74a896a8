package course

import (
	"errors"
	"fmt"

	"coursekeeper.ai/internal/persistence/snapshot"
	"coursekeeper.ai/internal/persistence/store"
	"coursekeeper.ai/internal/region"
)

var (
	ErrAlreadyActive = errors.New("challenge is already in progress")
	ErrNotActive     = errors.New("challenge is not in progress")
	ErrNoSnapshot    = errors.New("level has no snapshot")
	ErrLevelExists   = errors.New("level already exists")
	ErrUnknownLevel  = errors.New("unknown level")
	ErrInvalidName   = errors.New("invalid level name")
)

// RestoreError reports a restore that wrote nothing (dimension mismatch,
// missing snapshot, unavailable world) or that the world rejected.
type RestoreError struct {
	Level  string
	Reason string
	Err    error
}

func (e *RestoreError) Error() string {
	msg := fmt.Sprintf("restore %s: %s", e.Level, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RestoreError) Unwrap() error { return e.Err }

const (
	CodeInvalidRegion = "E_INVALID_REGION"
	CodeInvalidName   = "E_INVALID_NAME"
	CodeAlreadyActive = "E_ALREADY_ACTIVE"
	CodeNotActive     = "E_NOT_ACTIVE"
	CodeRestore       = "E_RESTORE"
	CodeCodec         = "E_CODEC"
	CodeIO            = "E_IO"
	CodeNoSnapshot    = "E_NO_SNAPSHOT"
	CodeLevelExists   = "E_LEVEL_EXISTS"
	CodeUnknownLevel  = "E_UNKNOWN_LEVEL"
	CodeInternal      = "E_INTERNAL"
)

// Code maps an error to a stable code so a command layer can pick a
// distinct message per failure kind. nil maps to "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	var (
		re  *RestoreError
		ire *region.InvalidRegionError
		ce  *snapshot.CodecError
		ioe *store.IOError
	)
	switch {
	case errors.As(err, &re):
		return CodeRestore
	case errors.Is(err, ErrAlreadyActive):
		return CodeAlreadyActive
	case errors.Is(err, ErrNotActive):
		return CodeNotActive
	case errors.As(err, &ire):
		return CodeInvalidRegion
	case errors.Is(err, ErrInvalidName):
		return CodeInvalidName
	case errors.As(err, &ce):
		return CodeCodec
	case errors.As(err, &ioe):
		return CodeIO
	case errors.Is(err, ErrNoSnapshot):
		return CodeNoSnapshot
	case errors.Is(err, ErrLevelExists):
		return CodeLevelExists
	case errors.Is(err, ErrUnknownLevel):
		return CodeUnknownLevel
	default:
		return CodeInternal
	}
}
