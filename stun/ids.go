package stun

import (
	"encoding/binary"

	"github.com/pion/randutil"
	pionstun "github.com/pion/stun/v3"
)

// idGenerator produces the 96-bit (12-byte) random transaction IDs
// component 4.6 requires, seeded from current time rather than
// pion/stun's own crypto-random default, matching the spec's own
// "seeded from current time" requirement. pion/randutil's math
// generator is exactly that: a math/rand source seeded at construction,
// as the rest of the pack (pion/webrtc et al.) uses it for ICE
// ufrag/pwd/foundation generation.
type idGenerator struct {
	gen randutil.MathRandomGenerator
}

func newIDGenerator() idGenerator {
	return idGenerator{gen: randutil.NewMathRandomGenerator()}
}

func (g idGenerator) next() [pionstun.TransactionIDSize]byte {
	var id [pionstun.TransactionIDSize]byte
	hi := g.gen.Uint64()
	lo := g.gen.Uint32()
	binary.BigEndian.PutUint64(id[:8], hi)
	binary.BigEndian.PutUint32(id[8:], lo)
	return id
}
