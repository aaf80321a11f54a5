package lmqttcore

import (
	"testing"

	"github.com/gonzalop/lmqttcore/internal/clock"
	"github.com/gonzalop/lmqttcore/internal/iobuf"
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
)

// fakeConn is a scripted socket: every Write call's bytes are appended to
// written, and queued reply chunks are handed back one at a time by Read,
// WouldBlock once the script runs dry.
type fakeConn struct {
	written []byte
	replies [][]byte
	idx     int
	eof     bool
}

func (f *fakeConn) write(src []byte) (int, iobuf.IOResult) {
	f.written = append(f.written, src...)
	return len(src), iobuf.IOOk
}

func (f *fakeConn) read(dst []byte) (int, iobuf.IOResult) {
	if f.idx >= len(f.replies) {
		if f.eof {
			return 0, iobuf.IOOk
		}
		return 0, iobuf.IOWouldBlock
	}
	chunk := f.replies[f.idx]
	n := copy(dst, chunk)
	if n < len(chunk) {
		f.replies[f.idx] = chunk[n:]
	} else {
		f.idx++
	}
	return n, iobuf.IOOk
}

func (f *fakeConn) queue(b []byte) { f.replies = append(f.replies, b) }

func newTestClient(conn *fakeConn, now *clock.Time, timeout uint32) *Client {
	return New(Config{
		GetTime:         func() clock.Time { return *now },
		Read:            conn.read,
		Write:           conn.write,
		ConnectStoreBuf: make([]store.Entry, 0, 1),
		MainStoreBuf:    make([]store.Entry, 0, 8),
		RXBuf:           make([]byte, 256),
		TXBuf:           make([]byte, 256),
		IDSetBuf:        make([]uint16, 0, 8),
		Timeout:         timeout,
	})
}

func TestClientHandshakeAccepted(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{Secs: 1}
	client := newTestClient(conn, &now, 5)

	var completed, succeeded bool
	err := client.Connect(&Connect{
		ClientID:     strref.Bytes([]byte("c1")),
		CleanSession: true,
		KeepAlive:    30,
	}, func(value any, ok bool) {
		completed = true
		succeeded = ok
	})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if client.State() != StateConnecting {
		t.Fatalf("state = %v, want StateConnecting", client.State())
	}

	conn.queue([]byte{0x20, 0x02, 0x00, 0x00}) // CONNACK: no session present, accepted

	status := client.RunOnce()
	if status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	if !completed || !succeeded {
		t.Fatalf("completed=%v succeeded=%v, want true/true", completed, succeeded)
	}
	if client.State() != StateConnected {
		t.Fatalf("state = %v, want StateConnected", client.State())
	}
}

func TestClientHandshakeRejected(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)

	var completed, succeeded bool
	if err := client.Connect(&Connect{ClientID: strref.Bytes([]byte("c1")), CleanSession: true}, func(value any, ok bool) {
		completed = true
		succeeded = ok
	}); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	conn.queue([]byte{0x20, 0x02, 0x00, byte(ConnRefusedNotAuthorized)})

	status := client.RunOnce()
	if status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	if !completed || succeeded {
		t.Fatalf("completed=%v succeeded=%v, want true/false on rejection", completed, succeeded)
	}
	if client.State() != StateInitial {
		t.Fatalf("state = %v, want StateInitial after a rejected CONNECT", client.State())
	}
}

func connectAndAccept(t *testing.T, conn *fakeConn, client *Client) {
	t.Helper()
	if err := client.Connect(&Connect{ClientID: strref.Bytes([]byte("c1")), CleanSession: true, KeepAlive: 30}, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.queue([]byte{0x20, 0x02, 0x00, 0x00})
	if status := client.RunOnce(); status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	if client.State() != StateConnected {
		t.Fatalf("state = %v, want StateConnected", client.State())
	}
}

func TestClientPublishQoS1CompletesOnPubAck(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	connectAndAccept(t, conn, client)

	var completed, succeeded bool
	pub := &Publish{Topic: strref.Bytes([]byte("a/b")), Payload: strref.Bytes([]byte("hi")), QoS: 1}
	if err := client.Publish(pub, func(value any, ok bool) {
		completed = true
		succeeded = ok
	}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.PacketID != 1 {
		t.Fatalf("PacketID = %d, want 1 (first id handed out by the main store)", pub.PacketID)
	}

	conn.queue([]byte{0x40, 0x02, 0x00, 0x01}) // PUBACK id=1

	if status := client.RunOnce(); status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	if !completed || !succeeded {
		t.Fatalf("completed=%v succeeded=%v, want true/true on PUBACK", completed, succeeded)
	}
}

func TestClientSubscribeCompletesOnSubAck(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	connectAndAccept(t, conn, client)

	var gotAck SubAck
	var succeeded bool
	sub := &Subscribe{Subscriptions: []Subscription{{Topic: strref.Bytes([]byte("topic")), QoS: 0}}}
	if err := client.Subscribe(sub, func(value any, ok bool) {
		succeeded = ok
		if sa, isSubAck := value.(SubAck); isSubAck {
			gotAck = sa
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	conn.queue([]byte{0x90, 0x03, 0x00, 0x01, 0x00}) // SUBACK id=1, one granted QoS0

	if status := client.RunOnce(); status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	if !succeeded {
		t.Fatal("Subscribe completion should report succeeded=true on SUBACK")
	}
	if len(gotAck.ReturnCodes) != 1 || gotAck.ReturnCodes[0] != SubAckQoS0 {
		t.Fatalf("SubAck.ReturnCodes = %v, want [0]", gotAck.ReturnCodes)
	}
}

func TestClientSocketEOFReturnsToInitial(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	connectAndAccept(t, conn, client)

	conn.eof = true
	status := client.RunOnce()
	if !status.IsEOFRD() {
		t.Fatalf("status = %v, want IsEOFRD after the peer closed its write side", status)
	}
	if client.State() != StateInitial {
		t.Fatalf("state = %v, want StateInitial after an EOF reset", client.State())
	}
}

func TestClientKeepAliveEnqueuesPingReq(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{Secs: 100}
	client := newTestClient(conn, &now, 5)
	if err := client.Connect(&Connect{ClientID: strref.Bytes([]byte("c1")), CleanSession: true, KeepAlive: 1}, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	conn.queue([]byte{0x20, 0x02, 0x00, 0x00})
	if status := client.RunOnce(); status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}

	before := len(conn.written)
	now = now.Plus(2)
	if status := client.RunOnce(); status.IsError() {
		t.Fatalf("RunOnce error: %v", client.LastError())
	}
	tail := conn.written[before:]
	if len(tail) < 2 || tail[0] != 0xC0 || tail[1] != 0x00 {
		t.Fatalf("bytes written after the keep-alive window elapsed = % x, want a PINGREQ (0xC0 0x00) prefix", tail)
	}
}

func TestConnectRejectedWhileAlreadyConnecting(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	if err := client.Connect(&Connect{ClientID: strref.Bytes([]byte("c1")), CleanSession: true}, nil); err != nil {
		t.Fatalf("first Connect: %v", err)
	}
	if err := client.Connect(&Connect{ClientID: strref.Bytes([]byte("c1")), CleanSession: true}, nil); err != ErrCommandNotAllowed {
		t.Fatalf("second Connect = %v, want ErrCommandNotAllowed", err)
	}
}

func TestPublishBeforeConnectIsRejected(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	pub := &Publish{Topic: strref.Bytes([]byte("a")), Payload: strref.Bytes([]byte("b"))}
	if err := client.Publish(pub, nil); err != ErrCommandNotAllowed {
		t.Fatalf("Publish before Connect = %v, want ErrCommandNotAllowed", err)
	}
}

func TestConnectRejectsEmptyClientIDWithContinuedSession(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	req := &Connect{CleanSession: false}
	if err := client.Connect(req, nil); err != ErrClientIDRequiredForContinuedSession {
		t.Fatalf("Connect with empty client id and clean_session=false = %v, want ErrClientIDRequiredForContinuedSession", err)
	}
	if client.State() != StateInitial {
		t.Fatalf("state = %v, want StateInitial after a rejected Connect", client.State())
	}
}

func TestConnectAllowsEmptyClientIDWithCleanSession(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	req := &Connect{CleanSession: true}
	if err := client.Connect(req, nil); err != nil {
		t.Fatalf("Connect with empty client id and clean_session=true = %v, want nil", err)
	}
}

func TestConnectRejectsPasswordWithoutUserName(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	req := &Connect{
		ClientID:     strref.Bytes([]byte("c1")),
		CleanSession: true,
		Password:     strref.Bytes([]byte("secret")),
	}
	if err := client.Connect(req, nil); err != ErrPasswordWithoutUserName {
		t.Fatalf("Connect with password but no user name = %v, want ErrPasswordWithoutUserName", err)
	}
}

func TestConnectAllowsPasswordWithUserName(t *testing.T) {
	conn := &fakeConn{}
	now := clock.Time{}
	client := newTestClient(conn, &now, 5)
	req := &Connect{
		ClientID:     strref.Bytes([]byte("c1")),
		CleanSession: true,
		UserName:     strref.Bytes([]byte("alice")),
		Password:     strref.Bytes([]byte("secret")),
	}
	if err := client.Connect(req, nil); err != nil {
		t.Fatalf("Connect with matching user name/password = %v, want nil", err)
	}
}
