package rtcp

// maxCompoundSize is the conservative UDP-safe ceiling a single compound
// RTCP packet is allowed to grow to before CompoundBuilder flushes it
// via the ready callback and starts a fresh one (spec.md §4.2/§4.7:
// "oversized compounds are fragmented across multiple UDP datagrams,
// each individually a valid compound packet").
const maxCompoundSize = 1200

// CompoundBuilder assembles a sequence of RTCP member packets into one
// or more compound packets, invoking Ready for each completed
// datagram's bytes. Mirrors the teacher's ByePacket-appended-last
// convention from pkg/rtp/rtcp.go, generalized: regardless of append
// order, Bye members are always moved to the end of whichever fragment
// they land in (Open Question #3: BYE always terminates its compound).
type CompoundBuilder struct {
	Ready   ReadyFunc
	members []Packet
	bye     Packet
	size    int
}

// NewCompoundBuilder creates a builder that flushes completed fragments
// through ready.
func NewCompoundBuilder(ready ReadyFunc) *CompoundBuilder {
	return &CompoundBuilder{Ready: ready}
}

// Add appends one RTCP member packet to the compound under
// construction, flushing the current fragment first if the member
// would push it over maxCompoundSize.
func (c *CompoundBuilder) Add(pkt Packet) error {
	if bye, ok := pkt.(*Bye); ok {
		if c.bye != nil {
			if err := c.flush(); err != nil {
				return err
			}
		}
		c.bye = bye
		return nil
	}
	n := pkt.PacketSize()
	byeSize := 0
	if c.bye != nil {
		byeSize = c.bye.PacketSize()
	}
	if c.size+n+byeSize > maxCompoundSize && c.size > 0 {
		if err := c.flush(); err != nil {
			return err
		}
	}
	c.members = append(c.members, pkt)
	c.size += n
	return nil
}

// Flush emits whatever is pending as a final compound packet, including
// a trailing BYE if one was queued. No-op if nothing is pending.
func (c *CompoundBuilder) Flush() error {
	return c.flush()
}

func (c *CompoundBuilder) flush() error {
	if len(c.members) == 0 && c.bye == nil {
		return nil
	}
	all := c.members
	if c.bye != nil {
		all = append(all, c.bye)
	}
	total := 0
	for _, m := range all {
		total += m.PacketSize()
	}
	buf := make([]byte, 0, total)
	for _, m := range all {
		b, err := m.Marshal()
		if err != nil {
			return err
		}
		buf = append(buf, b...)
	}
	c.members = nil
	c.bye = nil
	c.size = 0
	if c.Ready != nil {
		return c.Ready(buf)
	}
	return nil
}
