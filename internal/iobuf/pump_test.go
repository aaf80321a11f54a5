package iobuf

import (
	"testing"

	"github.com/gonzalop/lmqttcore/internal/clock"
	"github.com/gonzalop/lmqttcore/internal/idset"
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/wire"
)

func newStore(cap int) *store.Store {
	return store.New(make([]store.Entry, 0, cap), func() clock.Time { return clock.Time{} }, 0, 0)
}

func TestOutputStepDrivesSocketWrite(t *testing.T) {
	st := newStore(1)
	st.Append(store.Entry{Kind: store.KindPingReq})
	enc := wire.New(st)
	tx := NewBuffer(make([]byte, 16))

	var written []byte
	writer := func(src []byte) (int, IOResult) {
		written = append(written, src...)
		return len(src), IOOk
	}

	status, activity, err := OutputStep(tx, writer, enc)
	if err != nil {
		t.Fatalf("OutputStep error: %v", err)
	}
	if status != StatusReady {
		t.Fatalf("status = %v, want StatusReady", status)
	}
	if !activity {
		t.Fatal("writing a PINGREQ should report activity")
	}
	if len(written) != 2 {
		t.Fatalf("wrote %d bytes, want 2 (PINGREQ fixed header)", len(written))
	}
}

func TestOutputStepBlockConn(t *testing.T) {
	st := newStore(1)
	st.Append(store.Entry{Kind: store.KindPingReq})
	enc := wire.New(st)
	tx := NewBuffer(make([]byte, 16))

	writer := func(src []byte) (int, IOResult) { return 0, IOWouldBlock }

	status, _, err := OutputStep(tx, writer, enc)
	if err != nil {
		t.Fatalf("OutputStep error: %v", err)
	}
	if status != StatusBlockConn {
		t.Fatalf("status = %v, want StatusBlockConn", status)
	}
}

func TestOutputStepSocketEOF(t *testing.T) {
	st := newStore(1)
	st.Append(store.Entry{Kind: store.KindPingReq})
	enc := wire.New(st)
	tx := NewBuffer(make([]byte, 16))

	writer := func(src []byte) (int, IOResult) { return 0, IOOk }

	status, _, err := OutputStep(tx, writer, enc)
	if err != nil {
		t.Fatalf("OutputStep error: %v", err)
	}
	if status != StatusEOF {
		t.Fatalf("status = %v, want StatusEOF", status)
	}
}

func TestOutputStepSocketErr(t *testing.T) {
	st := newStore(1)
	st.Append(store.Entry{Kind: store.KindPingReq})
	enc := wire.New(st)
	tx := NewBuffer(make([]byte, 16))

	writer := func(src []byte) (int, IOResult) { return 0, IOErr }

	status, _, err := OutputStep(tx, writer, enc)
	if status != StatusErr || err != ErrSocketWrite {
		t.Fatalf("status=%v err=%v, want StatusErr/ErrSocketWrite", status, err)
	}
}

func TestInputStepDecodesPingResp(t *testing.T) {
	st := newStore(1)
	st.Append(store.Entry{Kind: store.KindPingReq})
	st.MarkCurrent()

	called := false
	dec := wire.NewDecoder(st, idset.New(make([]uint16, 0, 1)), wire.Callbacks{
		OnPingResp: func(store.Entry) { called = true },
	})
	rx := NewBuffer(make([]byte, 16))

	wireBytes := []byte{0xD0, 0x00} // PINGRESP fixed header
	offset := 0
	reader := func(dst []byte) (int, IOResult) {
		if offset >= len(wireBytes) {
			return 0, IOWouldBlock
		}
		n := copy(dst, wireBytes[offset:])
		offset += n
		return n, IOOk
	}

	status, activity, err := InputStep(rx, reader, dec)
	if err != nil {
		t.Fatalf("InputStep error: %v", err)
	}
	if status != StatusBlockConn {
		t.Fatalf("status = %v, want StatusBlockConn once the fake socket runs dry", status)
	}
	if !activity || !called {
		t.Fatalf("activity=%v called=%v, want both true", activity, called)
	}
}

func TestInputStepSocketEOF(t *testing.T) {
	st := newStore(1)
	dec := wire.NewDecoder(st, idset.New(make([]uint16, 0, 1)), wire.Callbacks{})
	rx := NewBuffer(make([]byte, 16))

	reader := func(dst []byte) (int, IOResult) { return 0, IOOk }
	status, _, err := InputStep(rx, reader, dec)
	if err != nil {
		t.Fatalf("InputStep error: %v", err)
	}
	if status != StatusEOF {
		t.Fatalf("status = %v, want StatusEOF", status)
	}
}

func TestInputStepSocketWouldBlock(t *testing.T) {
	st := newStore(1)
	dec := wire.NewDecoder(st, idset.New(make([]uint16, 0, 1)), wire.Callbacks{})
	rx := NewBuffer(make([]byte, 16))

	reader := func(dst []byte) (int, IOResult) { return 0, IOWouldBlock }
	status, activity, err := InputStep(rx, reader, dec)
	if err != nil {
		t.Fatalf("InputStep error: %v", err)
	}
	if status != StatusBlockConn {
		t.Fatalf("status = %v, want StatusBlockConn", status)
	}
	if activity {
		t.Fatal("a socket that never produced a byte should report no activity")
	}
}
