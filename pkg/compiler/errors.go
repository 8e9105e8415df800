package compiler

import "errors"

// ErrUnsupportedTerm is returned when a term names a construct the
// compiler deliberately rejects: MultiTo and Merge are compile-time errors
// until their semantics are settled.
var ErrUnsupportedTerm = errors.New("compiler: unsupported term")
