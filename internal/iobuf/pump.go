// Package iobuf implements the Buffer Pump: two fixed, caller-provided byte
// buffers (rx, tx) moved between socket callbacks and the wire codec, one
// run step at a time, choosing which side (the socket or an application
// stream) is responsible for a step ending early.
package iobuf

import (
	"errors"

	"github.com/gonzalop/lmqttcore/internal/wire"
)

// IOResult is what a caller-supplied socket callback reports about one
// attempted read or write.
type IOResult int

const (
	IOOk IOResult = iota
	IOWouldBlock
	IOErr
)

// Reader reads into dst from the socket. n==0 with IOOk means EOF.
type Reader func(dst []byte) (int, IOResult)

// Writer writes src to the socket. n==0 with IOOk means EOF (the peer
// closed its read side).
type Writer func(src []byte) (int, IOResult)

// Status is one run step's outcome.
type Status int

const (
	StatusReady Status = iota
	StatusBlockConn
	StatusBlockData
	StatusEOF
	StatusErr
)

var (
	ErrSocketRead  = errors.New("iobuf: socket read failed")
	ErrSocketWrite = errors.New("iobuf: socket write failed")
)

// Buffer is a fixed-capacity byte window: data[:fill] is valid, data[fill:]
// is free space. Consuming shifts the remaining tail down to offset 0
// rather than tracking a separate read cursor, since both the rx and tx
// buffers are small and touched at most twice per run step.
type Buffer struct {
	data []byte
	fill int
}

// NewBuffer wraps a caller-provided fixed-size slice.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{data: buf[:cap(buf)]}
}

func (b *Buffer) Reset() { b.fill = 0 }

func (b *Buffer) room() int { return len(b.data) - b.fill }

func (b *Buffer) consume(n int) {
	copy(b.data, b.data[n:b.fill])
	b.fill -= n
}

// InputStep drains whatever is already buffered into dec, then alternates
// reading more from the socket and draining again, until either side can't
// make progress. activity reports whether any byte moved in either
// direction, for the caller to feed to Store.Touch.
func InputStep(rx *Buffer, read Reader, dec *wire.Decoder) (Status, bool, error) {
	activity := false

	for {
		if rx.fill > 0 {
			n, st, err := dec.Decode(rx.data[:rx.fill])
			if n > 0 {
				rx.consume(n)
				activity = true
			}
			if st == wire.StatusErr {
				return StatusErr, activity, err
			}
			if st == wire.StatusWouldBlock {
				// Decode was handed a non-empty slice, so WouldBlock here
				// can only mean an application write stream blocked.
				return StatusBlockData, activity, nil
			}
			// StatusOK: either a packet finished (there may be leftover
			// bytes for the next one) or every available byte was
			// consumed mid-packet. Either way, loop and try again before
			// going back to the socket.
			continue
		}

		if rx.room() == 0 {
			return StatusBlockConn, activity, nil
		}

		n, rst := read(rx.data[rx.fill:])
		switch rst {
		case IOErr:
			return StatusErr, activity, ErrSocketRead
		case IOWouldBlock:
			return StatusBlockConn, activity, nil
		}
		if n == 0 {
			return StatusEOF, activity, nil
		}
		rx.fill += n
		activity = true
	}
}

// OutputStep mirrors InputStep with enc as the producer and the socket
// write as the consumer.
func OutputStep(tx *Buffer, write Writer, enc *wire.Encoder) (Status, bool, error) {
	activity := false

	for {
		if tx.room() > 0 {
			n, st, err := enc.Encode(tx.data[tx.fill:])
			if n > 0 {
				tx.fill += n
				activity = true
			}
			if st == wire.StatusErr {
				return StatusErr, activity, err
			}
			if st == wire.StatusWouldBlock && tx.fill == 0 {
				if _, blocked := enc.BlockingRef(); blocked {
					return StatusBlockData, activity, nil
				}
				return StatusReady, activity, nil
			}
		}

		if tx.fill == 0 {
			return StatusReady, activity, nil
		}

		n, wst := write(tx.data[:tx.fill])
		switch wst {
		case IOErr:
			return StatusErr, activity, ErrSocketWrite
		case IOWouldBlock:
			return StatusBlockConn, activity, nil
		}
		if n == 0 {
			return StatusEOF, activity, nil
		}
		tx.consume(n)
		activity = true
	}
}
