package wire

// FixedHeader is the first 2-5 bytes of every MQTT control packet: one
// type+flags byte followed by 1-4 remaining-length bytes.
type FixedHeader struct {
	Type            uint8
	Flags           uint8
	RemainingLength int
}

// fixedHeaderState accumulates a FixedHeader one byte at a time so the
// decoder can suspend between any two bytes of it.
type fixedHeaderState struct {
	raw  [5]byte
	n    int
	done bool
}

func (s *fixedHeaderState) reset() {
	s.n = 0
	s.done = false
}

// feed consumes exactly one byte. ok is false only on a malformed
// remaining-length encoding (more than 4 bytes); the caller stops feeding
// once done() reports true.
func (s *fixedHeaderState) feed(b byte) (ok bool) {
	s.raw[s.n] = b
	s.n++

	if s.n == 1 {
		// type+flags byte, never itself a continuation byte
		return true
	}

	if b&0x80 != 0 {
		if s.n-1 >= 4 {
			return false
		}
		return true
	}

	s.done = true
	return true
}

func (s *fixedHeaderState) complete() bool { return s.done }

// header decodes the accumulated bytes and reports whether the
// remaining-length encoding was minimal.
func (s *fixedHeaderState) header() (FixedHeader, bool) {
	lenBytes := s.raw[1:s.n]
	value := decodeRemainingLength(lenBytes)
	minimal := len(encodeRemainingLength(value)) == len(lenBytes)

	return FixedHeader{
		Type:            s.raw[0] >> 4,
		Flags:           s.raw[0] & 0x0F,
		RemainingLength: value,
	}, minimal
}
