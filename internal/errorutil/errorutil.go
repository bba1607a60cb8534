package errorutil

import "errors"

// ErrStackMismatch is returned when a call exits out of order, meaning the
// frame being closed is not the innermost active frame of its stack.
var ErrStackMismatch = errors.New("call stack mismatch")
