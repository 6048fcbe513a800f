package sdp

import "errors"

// ErrIncompatible is returned when offer/answer negotiation finds no
// common codec for a mandatory media line; the caller maps this to a
// 488 Not Acceptable Here response.
var ErrIncompatible = errors.New("sdp: no compatible codec for mandatory media")
