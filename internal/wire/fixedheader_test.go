package wire

import "testing"

func TestFixedHeaderStateSingleByteLength(t *testing.T) {
	var s fixedHeaderState
	if ok := s.feed(fixedHeaderByte(TypePingReq, 0)); !ok {
		t.Fatal("type+flags byte should never fail")
	}
	if s.complete() {
		t.Fatal("header should not be complete after only the type+flags byte")
	}
	if ok := s.feed(0x00); !ok {
		t.Fatal("a single zero length byte should be accepted")
	}
	if !s.complete() {
		t.Fatal("header should be complete once a non-continuation length byte arrives")
	}

	hdr, minimal := s.header()
	if !minimal {
		t.Fatal("single zero-length byte is the minimal encoding of 0")
	}
	if hdr.Type != TypePingReq || hdr.RemainingLength != 0 {
		t.Fatalf("header = %+v, want Type=PingReq RemainingLength=0", hdr)
	}
}

func TestFixedHeaderStateMultiByteLength(t *testing.T) {
	var s fixedHeaderState
	s.feed(fixedHeaderByte(TypePublish, 0))
	s.feed(0x80) // continuation bit set
	if s.complete() {
		t.Fatal("header should not be complete while the continuation bit is set")
	}
	s.feed(0x01)
	if !s.complete() {
		t.Fatal("header should be complete once the continuation bit clears")
	}
	hdr, minimal := s.header()
	if !minimal || hdr.RemainingLength != 128 {
		t.Fatalf("header = %+v minimal=%v, want RemainingLength=128 minimal=true", hdr, minimal)
	}
}

func TestFixedHeaderStateRejectsTooManyContinuationBytes(t *testing.T) {
	var s fixedHeaderState
	s.feed(fixedHeaderByte(TypePublish, 0))
	for i := 0; i < 4; i++ {
		if ok := s.feed(0x80); !ok {
			return
		}
	}
	t.Fatal("feeding 4 continuation bytes should eventually be rejected")
}

func TestFixedHeaderStateDetectsNonMinimalEncoding(t *testing.T) {
	var s fixedHeaderState
	s.feed(fixedHeaderByte(TypePingReq, 0))
	// 0 encoded as two bytes (0x80, 0x00) instead of the minimal one byte.
	s.feed(0x80)
	s.feed(0x00)
	_, minimal := s.header()
	if minimal {
		t.Fatal("a two-byte encoding of 0 is not minimal")
	}
}
