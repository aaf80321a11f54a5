package wire

import (
	"bytes"
	"testing"
)

func TestEncodeRemainingLengthSingleByte(t *testing.T) {
	for _, value := range []int{0, 1, 127} {
		got := encodeRemainingLength(value)
		if len(got) != 1 || int(got[0]) != value {
			t.Fatalf("encodeRemainingLength(%d) = %v, want [%d]", value, got, value)
		}
	}
}

func TestEncodeRemainingLengthMultiByte(t *testing.T) {
	cases := []struct {
		value int
		want  []byte
	}{
		{128, []byte{0x80, 0x01}},
		{16384, []byte{0x80, 0x80, 0x01}},
		{2097151, []byte{0xFF, 0xFF, 0x7F}},
	}
	for _, c := range cases {
		got := encodeRemainingLength(c.value)
		if !bytes.Equal(got, c.want) {
			t.Fatalf("encodeRemainingLength(%d) = %v, want %v", c.value, got, c.want)
		}
	}
}

func TestRemainingLengthRoundTrip(t *testing.T) {
	for _, value := range []int{0, 1, 127, 128, 16383, 16384, 2097151} {
		enc := encodeRemainingLength(value)
		got := decodeRemainingLength(enc)
		if got != value {
			t.Fatalf("round trip of %d = %d", value, got)
		}
	}
}
