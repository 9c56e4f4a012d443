package mux

import "errors"

// ErrRejected is returned by Push when the source lacks permission for
// the priority or component it targets.
var ErrRejected = errors.New("mux: rejected")

// ErrExhausted is returned by Register once the implementation-defined
// maximum active source count has been reached.
var ErrExhausted = errors.New("mux: source table exhausted")

// ErrUnknownSource is returned by Push/Clear when the given SourceID was
// never registered (or was registered on a different muxer instance).
var ErrUnknownSource = errors.New("mux: unknown source")
