// Package strref implements the String Reference: a length-bounded byte
// range that is either caller-owned memory or a pair of streaming
// callbacks. It is the one primitive both the encoder and the decoder
// suspend on when an application-side stream would block.
package strref

// Result is the outcome of one Encode or Put step. It mirrors the four
// states the underlying stream callback can produce, plus Finished to mean
// the whole reference has now been transferred.
type Result int

const (
	// Finished means every byte of the reference has been transferred.
	Finished Result = iota
	// Continue means progress was made but the destination/source slice
	// was exhausted before the reference finished; call again.
	Continue
	// WouldBlock means the underlying stream produced zero bytes and has
	// more to produce later; the caller should suspend on it.
	WouldBlock
	// Err means the underlying stream failed.
	Err
)

// ReadFunc streams outbound payload bytes for the encoder. It returns how
// many bytes it copied into dst and whether the attempt finished, merely
// made progress, blocked, or failed. Ok(0) with no more data pending
// should be reported as WouldBlock only if the stream expects to produce
// more later; a permanently exhausted stream is a caller bug (Len should
// already reflect it).
type ReadFunc func(dst []byte) (n int, result Result)

// WriteFunc streams inbound payload bytes for the decoder.
type WriteFunc func(src []byte) (n int, result Result)

// Ref is a length-bounded byte range. Exactly one of Buf, Read, or Write is
// set by the caller before the reference is handed to the codec.
type Ref struct {
	// Len is the total number of bytes this reference carries. It is
	// known up front even when the bytes themselves stream in lazily.
	Len int

	// Buf, when non-nil, is caller-owned memory of length Len.
	Buf []byte

	// Read streams outbound bytes (encoder side). Set only when Buf is nil.
	Read ReadFunc

	// Write streams inbound bytes (decoder side). Set only when Buf is nil.
	Write WriteFunc

	pos int
}

// Bytes wraps caller-owned memory as a buffer-backed Ref.
func Bytes(b []byte) Ref {
	return Ref{Len: len(b), Buf: b}
}

// Reset rewinds the reference to its start; the encoder does this each time
// it begins (re)transmitting the owning packet, so the reference can be
// reused (e.g. retransmitted with DUP).
func (r *Ref) Reset() { r.pos = 0 }

// Pos returns the current cursor position.
func (r *Ref) Pos() int { return r.pos }

// Done reports whether every byte has already been transferred.
func (r *Ref) Done() bool { return r.pos >= r.Len }

// Encode writes up to len(dst) bytes starting at the current cursor and
// advances it. Used by the encoder to stream this reference out.
func (r *Ref) Encode(dst []byte) (int, Result) {
	if r.Done() {
		return 0, Finished
	}

	want := r.Len - r.pos
	if want > len(dst) {
		want = len(dst)
	}
	if want == 0 {
		return 0, Continue
	}

	if r.Buf != nil {
		n := copy(dst[:want], r.Buf[r.pos:])
		r.pos += n
		return n, r.progress()
	}

	n, res := r.Read(dst[:want])
	r.pos += n
	if res == Err {
		return n, Err
	}
	if res == WouldBlock && n == 0 {
		return 0, WouldBlock
	}
	return n, r.progress()
}

// Put appends up to len(src) bytes at the current cursor. Used by the
// decoder to stream this reference in.
func (r *Ref) Put(src []byte) (int, Result) {
	if r.Done() {
		return 0, Finished
	}

	want := r.Len - r.pos
	if want > len(src) {
		want = len(src)
	}
	if want == 0 {
		return 0, Continue
	}

	if r.Buf != nil {
		n := copy(r.Buf[r.pos:], src[:want])
		r.pos += n
		return n, r.progress()
	}

	n, res := r.Write(src[:want])
	r.pos += n
	if res == Err {
		return n, Err
	}
	if res == WouldBlock && n == 0 {
		return 0, WouldBlock
	}
	return n, r.progress()
}

func (r *Ref) progress() Result {
	if r.Done() {
		return Finished
	}
	return Continue
}
