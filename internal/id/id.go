// Package id generates the local identifiers cmd/kvazzupd needs before
// it has a configured username: an anonymous SIP user part, stable for
// the life of the process.
package id

import "github.com/google/uuid"

// NewAnonymousUser returns a short, URI-safe user part for Config.Username
// when the operator did not configure one, grounded on the same
// google/uuid dependency sip.GenerateTag/GenerateBranch/GenerateCallID
// already use for token entropy.
func NewAnonymousUser() string {
	return "kvazzup-" + uuid.NewString()[:8]
}
