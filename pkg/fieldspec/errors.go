package fieldspec

import (
	"errors"
	"fmt"
)

type DecodeErrorKind string

const (
	TooShort    DecodeErrorKind = "too_short"
	OutOfRange  DecodeErrorKind = "out_of_range"
	InvalidEnum DecodeErrorKind = "invalid_enum"
)

type DecodeError struct {
	Kind   DecodeErrorKind
	Layout string
	Field  string
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s.%s: %s: %s", e.Layout, e.Field, e.Kind, e.Detail)
	}
	return fmt.Sprintf("decode %s: %s: %s", e.Layout, e.Kind, e.Detail)
}

// IsDecodeError reports whether err wraps a DecodeError of the given kind.
func IsDecodeError(err error, kind DecodeErrorKind) bool {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind == kind
	}
	return false
}
