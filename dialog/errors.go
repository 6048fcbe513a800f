package dialog

import "errors"

var (
	// ErrNotFound is returned when a request or response references a
	// dialog this side has no record of.
	ErrNotFound = errors.New("dialog: not found")

	// ErrTagMismatch is returned when a request's tags contradict a
	// dialog's already-fixed remote tag, per the tag invariance property.
	ErrTagMismatch = errors.New("dialog: tag mismatch")

	// ErrCSeqTooLow is returned when an in-dialog request's CSeq is not
	// greater than the last one seen from that peer.
	ErrCSeqTooLow = errors.New("dialog: cseq not greater than last seen")
)
