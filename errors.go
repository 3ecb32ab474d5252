package rapidpart

import "errors"

var (
	// ErrPaused is reported when a callback returned a non-nil error.
	// The parser is still usable; feed the unconsumed remainder of the
	// input to continue exactly where parsing stopped.
	ErrPaused = errors.New("parsing paused by callback")

	// ErrInvalidBoundary is reported when bytes at a delimiter position do
	// not form a valid boundary line.
	ErrInvalidBoundary = errors.New("invalid boundary")

	// ErrInvalidHeaderField is reported on a character outside the header
	// name token set (ASCII letters and '-').
	ErrInvalidHeaderField = errors.New("invalid character in header name")

	// ErrInvalidHeaderFormat is reported on a malformed header line, such
	// as a CR not followed by LF.
	ErrInvalidHeaderFormat = errors.New("malformed header line")

	// ErrInvalidState is reported if the parser reaches a state it cannot
	// account for. Seeing it indicates a bug in this package.
	ErrInvalidState = errors.New("parser in invalid state")

	// ErrUnknown is reported by accessors on a nil parser.
	ErrUnknown = errors.New("unknown error")
)
