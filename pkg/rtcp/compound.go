package rtcp

// parseBody dispatches on (Type, Count/FMT) the way the teacher's
// compound-packet loop in pkg/rtp/rtcp.go did for SR/RR/SDES/BYE,
// decoding the single RTCP packet whose header is already parsed as h
// and whose header+body occupies all of body.
func parseBody(h CommonHeader, body []byte) (Packet, error) {
	switch h.Type {
	case TypeSR:
		return ParseSenderReport(h, body)
	case TypeRR:
		return ParseReceiverReport(h, body)
	case TypeSDES:
		return ParseSourceDescription(h, body)
	case TypeBYE:
		return ParseBye(h, body)
	case TypeRTPFB:
		switch h.Count {
		case FmtNack:
			return ParseNack(h, body)
		case FmtTMMBR:
			return ParseTransportLayerMaxBitrateRequest(h, body)
		case FmtTMMBN:
			return ParseTransportLayerMaxBitrateNotification(h, body)
		case FmtTransportFeedback:
			return ParseTransportFeedback(h, body)
		default:
			return &RawPacket{CommonHeader: h, Payload: append([]byte(nil), body...)}, nil
		}
	case TypePSFB:
		switch h.Count {
		case FmtPLI:
			return ParsePictureLossIndication(h, body)
		case FmtFIR:
			return ParseFullIntraRequest(h, body)
		case FmtAFB:
			switch {
			case len(body) >= 16 && body[12] == 'R' && body[13] == 'E' && body[14] == 'M' && body[15] == 'B':
				return ParseReceiverEstimatedMaxBitrate(h, body)
			case len(body) >= 16 && body[12] == 'L' && body[13] == 'N' && body[14] == 'T' && body[15] == 'F':
				return ParseLossNotification(h, body)
			default:
				return &RawPacket{CommonHeader: h, Payload: append([]byte(nil), body...)}, nil
			}
		default:
			return &RawPacket{CommonHeader: h, Payload: append([]byte(nil), body...)}, nil
		}
	case TypeXR:
		return ParseXRReport(h, body)
	default:
		return &RawPacket{CommonHeader: h, Payload: append([]byte(nil), body...)}, nil
	}
}

// ParsePacket decodes a single RTCP packet (header + body) starting at
// the front of data and returns it along with the number of bytes
// consumed.
func ParsePacket(data []byte) (Packet, int, error) {
	h, err := parseCommonHeader(data)
	if err != nil {
		return nil, 0, err
	}
	size := (int(h.Length) + 1) * 4
	if size > len(data) {
		return nil, 0, ErrShortBuffer
	}
	pkt, err := parseBody(h, data[:size])
	if err != nil {
		return nil, 0, err
	}
	return pkt, size, nil
}

// ParseCompound splits a compound RTCP packet into its individual
// member packets (RFC 3550 §6.1: every compound packet on the wire is a
// back-to-back concatenation of headers-with-bodies, no outer
// envelope). A member that fails to decode is skipped rather than
// aborting the whole compound (spec.md §7: the parser "skips the
// offending block, increments a 'skipped packets' counter, and logs a
// rate-limited warning") so that one corrupted block never costs the
// caller every other, valid member in the same datagram. skipped
// reports how many members were dropped this way; a header that can't
// even be parsed leaves no way to locate the next member, so parsing
// stops there and the remainder counts as one skipped block.
func ParseCompound(data []byte) (pkts []Packet, skipped int) {
	for len(data) > 0 {
		h, err := parseCommonHeader(data)
		if err != nil {
			return pkts, skipped + 1
		}
		size := (int(h.Length) + 1) * 4
		if size > len(data) {
			return pkts, skipped + 1
		}
		body := data[:size]
		data = data[size:]

		pkt, err := parseBody(h, body)
		if err != nil {
			skipped++
			continue
		}
		pkts = append(pkts, pkt)
	}
	return pkts, skipped
}

// RawPacket holds an unrecognized RTCP packet type/FMT verbatim so a
// compound parse never fails wholesale on a single unknown member.
type RawPacket struct {
	CommonHeader CommonHeader
	Payload      []byte
}

func (r *RawPacket) Header() CommonHeader { return r.CommonHeader }
func (r *RawPacket) PacketSize() int      { return len(r.Payload) }
func (r *RawPacket) Marshal() ([]byte, error) {
	return append([]byte(nil), r.Payload...), nil
}
