package sip

import (
	"errors"
	"fmt"
)

// Sentinel error kinds per the wire codec contract: decode either succeeds,
// asks for more bytes, or gives up on the message outright.
var (
	ErrNeedMoreData = errors.New("sip: need more data")
	ErrMalformed    = errors.New("sip: malformed message")
)

func newMalformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformed}, args...)...)
}
