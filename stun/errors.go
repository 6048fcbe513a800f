package stun

import "errors"

var (
	// ErrNotBindingResponse is returned when a decoded message is not a
	// binding success response (wrong method/class, or an error response).
	ErrNotBindingResponse = errors.New("stun: not a binding success response")

	// ErrTransactionMismatch is returned when a response's transaction id
	// does not match any outstanding request for its source address.
	ErrTransactionMismatch = errors.New("stun: transaction id does not match any outstanding request")

	// ErrNoXorMappedAddress is returned when a binding response carries no
	// XOR-MAPPED-ADDRESS attribute.
	ErrNoXorMappedAddress = errors.New("stun: response has no XOR-MAPPED-ADDRESS attribute")
)
