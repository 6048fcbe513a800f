package sdp

import (
	pionsdp "github.com/pion/sdp/v3"
)

// Negotiate builds an answer to a remote offer: for each local media
// spec, find the matching offer media line by kind and select at most
// one codec (the first local preference also present in the offer). A
// mandatory media spec with no match in the offer, or with no common
// codec, fails the whole negotiation with ErrIncompatible so the caller
// can answer 488; an optional spec with no match is simply omitted from
// the answer.
func Negotiate(offer Session, localIP string, sessionID uint64, localSpecs []MediaSpec) (Session, error) {
	answer := BuildOffer(localIP, sessionID, nil)
	answer.Desc.MediaDescriptions = nil

	for _, spec := range localSpecs {
		offerMedia := findOfferMedia(offer.Desc, spec.Kind)
		if offerMedia == nil {
			if spec.Mandatory {
				return Session{}, ErrIncompatible
			}
			continue
		}

		chosen, ok := intersect(spec.Codecs, formatsOf(offerMedia), rtpmapNamesByFormat(offerMedia))
		if !ok {
			if spec.Mandatory {
				return Session{}, ErrIncompatible
			}
			continue
		}

		line := buildMediaLine(MediaSpec{Kind: spec.Kind, Port: spec.Port, Codecs: []Codec{chosen}}, localIP)
		answer.Desc.MediaDescriptions = append(answer.Desc.MediaDescriptions, line)
	}

	return answer, nil
}

// ReNegotiate re-runs Negotiate against a re-INVITE's offer but keeps any
// media line unchanged (same kind, same selected codec) from the
// previous answer rather than re-deriving it, per component 4.5's
// "preserving media that did not change".
func ReNegotiate(previous Session, newOffer Session, localIP string, sessionID uint64, localSpecs []MediaSpec) (Session, error) {
	fresh, err := Negotiate(newOffer, localIP, sessionID, localSpecs)
	if err != nil {
		return Session{}, err
	}

	for _, line := range fresh.Desc.MediaDescriptions {
		prevLine := findOfferMedia(previous.Desc, mediaKindOf(line))
		if prevLine == nil {
			continue
		}
		if sameSingleCodec(prevLine, line) {
			line.MediaName.Port = prevLine.MediaName.Port
		}
	}
	return fresh, nil
}

func findOfferMedia(desc *pionsdp.SessionDescription, kind MediaKind) *pionsdp.MediaDescription {
	for _, m := range desc.MediaDescriptions {
		if mediaKindOf(m) == kind {
			return m
		}
	}
	return nil
}

func sameSingleCodec(a, b *pionsdp.MediaDescription) bool {
	fa, fb := formatsOf(a), formatsOf(b)
	if len(fa) != 1 || len(fb) != 1 {
		return false
	}
	ptA, okA := payloadTypeOf(fa[0])
	ptB, okB := payloadTypeOf(fb[0])
	return okA && okB && ptA == ptB
}

// RemoteConnectionAddress returns the negotiated remote RTP address for
// kind, session-level connection line as fallback per the data model's
// invariant that every session has either a global connection line or
// one per media entry.
func RemoteConnectionAddress(session Session, kind MediaKind) (string, int, bool) {
	m := findOfferMedia(session.Desc, kind)
	if m == nil {
		return "", 0, false
	}
	addr := connectionAddress(m, session.Desc.ConnectionInformation)
	if addr == "" {
		return "", 0, false
	}
	return addr, portOf(m), true
}
