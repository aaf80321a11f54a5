package wire

import (
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
)

// Status is the Encoder/Decoder's top-level per-call outcome.
type Status int

const (
	StatusOK Status = iota
	StatusWouldBlock
	StatusErr
)

// scratchBuf is the ≤16-byte scratch a "builder" step fills once and
// drains across one or more calls until fully copied into the tx buffer.
// 16 bytes suffices for every non-payload sub-encoder (the CONNECT
// variable header, the longest builder, is 10 bytes); it is a policy
// choice, not a wire-format limit, so it is never grown dynamically.
type scratchBuf struct {
	buf [16]byte
	n   int
	pos int
}

func (s *scratchBuf) fill(b ...byte) {
	s.n = copy(s.buf[:], b)
	s.pos = 0
}

func (s *scratchBuf) drain(dst []byte) (int, strref.Result) {
	if s.pos >= s.n {
		return 0, strref.Finished
	}
	c := copy(dst, s.buf[s.pos:s.n])
	s.pos += c
	if s.pos >= s.n {
		return c, strref.Finished
	}
	return c, strref.Continue
}

// stringWriter drives one length-prefixed or bare String Reference to
// completion, resumable at byte granularity.
type stringWriter struct {
	ref      *strref.Ref
	prefixed bool
	lenBuf   [2]byte
	lenPos   int
}

func (w *stringWriter) start(ref *strref.Ref, prefixed bool) {
	w.ref = ref
	w.prefixed = prefixed
	w.lenPos = 0
	if prefixed {
		w.lenBuf[0] = byte(ref.Len >> 8)
		w.lenBuf[1] = byte(ref.Len)
	}
	ref.Reset()
}

func (w *stringWriter) write(dst []byte) (int, strref.Result) {
	total := 0
	if w.prefixed && w.lenPos < 2 {
		n := copy(dst, w.lenBuf[w.lenPos:2])
		w.lenPos += n
		total += n
		if w.lenPos < 2 {
			return total, strref.Continue
		}
		dst = dst[n:]
	}
	if w.ref.Len == 0 {
		return total, strref.Finished
	}
	if len(dst) == 0 {
		return total, strref.Continue
	}
	n, res := w.ref.Encode(dst)
	total += n
	return total, res
}

// Encoder turns the store's next unsent entry into bytes, resumable at
// byte granularity, suspending when a payload stream would block.
type Encoder struct {
	st     *store.Store
	closed bool

	entry   *store.Entry
	step    int
	sub     int
	subStep int

	fh   scratchBuf
	vh   scratchBuf
	id   scratchBuf
	qos  scratchBuf
	str  stringWriter

	blocking *strref.Ref
}

// New creates an Encoder driving st.
func New(st *store.Store) *Encoder {
	return &Encoder{st: st}
}

// Close stops the encoder from producing anything further; used once a
// DISCONNECT has been fully emitted.
func (e *Encoder) Close() { e.closed = true }

func (e *Encoder) Reset() {
	*e = Encoder{st: e.st}
}

// SetStore repoints the encoder at a different Store, for the handshake's
// connect-store-to-main-store handoff. Only valid with no entry in flight.
func (e *Encoder) SetStore(st *store.Store) { e.st = st }

// BlockingRef returns the String Reference the encoder is currently
// suspended on, if its last step ended in WouldBlock.
func (e *Encoder) BlockingRef() (*strref.Ref, bool) {
	return e.blocking, e.blocking != nil
}

// Encode writes as much as it can into dst from the store's queue,
// spanning as many entries as fit, and reports the outcome.
func (e *Encoder) Encode(dst []byte) (int, Status, error) {
	total := 0
	e.blocking = nil

	for {
		if e.closed {
			return total, StatusOK, nil
		}

		if e.entry == nil {
			ent, ok := e.st.Peek()
			if !ok {
				if total == 0 {
					return 0, StatusWouldBlock, nil
				}
				return total, StatusOK, nil
			}
			e.beginEntry(ent)
		}

		if total == len(dst) {
			return total, StatusOK, nil
		}

		n, res := e.encodeStep(dst[total:])
		total += n

		switch res {
		case strref.Err:
			return total, StatusErr, wireErr(ErrEncodeString)
		case strref.WouldBlock:
			if total == 0 {
				return 0, StatusWouldBlock, nil
			}
			return total, StatusOK, nil
		case strref.Continue:
			if total == len(dst) {
				return total, StatusOK, nil
			}
			// scratch exhausted its own small buffer; loop to keep
			// draining within the same call.
		case strref.Finished:
			e.finishEntry()
		}
	}
}

func (e *Encoder) beginEntry(ent *store.Entry) {
	e.entry = ent
	e.step = 0
	e.sub = 0
	e.subStep = 0
}

func (e *Encoder) finishEntry() {
	kind := e.entry.Kind
	e.entry = nil

	switch kind {
	case store.KindDisconnect:
		e.st.DropCurrent(true)
		e.closed = true
	case store.KindPublish0, store.KindPubAck, store.KindPubRec, store.KindPubComp:
		e.st.DropCurrent(true)
	default:
		e.st.MarkCurrent()
	}
}

// encodeStep advances the current entry by one resumable step, writing
// into dst. It returns Finished only once every step of the recipe has
// completed.
func (e *Encoder) encodeStep(dst []byte) (int, strref.Result) {
	switch e.entry.Kind {
	case store.KindConnect:
		return e.stepConnect(dst)
	case store.KindPublish0, store.KindPublish1, store.KindPublish2:
		return e.stepPublish(dst)
	case store.KindSubscribe:
		return e.stepSubscribe(dst)
	case store.KindUnsubscribe:
		return e.stepUnsubscribe(dst)
	case store.KindPubRel, store.KindPubAck, store.KindPubRec, store.KindPubComp:
		return e.stepIDOnly(dst)
	case store.KindPingReq, store.KindDisconnect:
		return e.stepNoBody(dst)
	default:
		return 0, strref.Err
	}
}

func fixedHeaderByte(typ uint8, flags uint8) byte {
	return (typ << 4) | (flags & 0x0F)
}

func (e *Encoder) fillFixedHeader(typ uint8, flags uint8, remaining int) {
	b := []byte{fixedHeaderByte(typ, flags)}
	b = append(b, encodeRemainingLength(remaining)...)
	e.fh.fill(b...)
}

func connectRemainingLength(c *Connect) int {
	n := 10 // protocol name(6) + level(1) + flags(1) + keepalive(2)
	n += 2 + c.ClientID.Len
	if c.WillTopic.Len > 0 {
		n += 2 + c.WillTopic.Len
	}
	if c.WillMessage.Len > 0 {
		n += 2 + c.WillMessage.Len
	}
	if c.UserName.Len > 0 {
		n += 2 + c.UserName.Len
	}
	if c.Password.Len > 0 {
		n += 2 + c.Password.Len
	}
	return n
}

func connectFlagsByte(c *Connect) byte {
	var f byte
	if c.CleanSession {
		f |= 0x02
	}
	if c.WillTopic.Len > 0 {
		f |= 0x04
		f |= (c.WillQoS & 0x03) << 3
		if c.WillRetain {
			f |= 0x20
		}
	}
	if c.Password.Len > 0 {
		f |= 0x40
	}
	if c.UserName.Len > 0 {
		f |= 0x80
	}
	return f
}

func (e *Encoder) stepConnect(dst []byte) (int, strref.Result) {
	c := e.entry.Value.(*Connect)
	total := 0

	for total < len(dst) {
		switch e.step {
		case 0:
			if e.fh.n == 0 {
				e.fillFixedHeader(TypeConnect, 0, connectRemainingLength(c))
			}
			n, res := e.fh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.fh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 1:
			if e.vh.n == 0 {
				e.vh.fill(0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04,
					connectFlagsByte(c),
					byte(c.KeepAlive>>8), byte(c.KeepAlive))
			}
			n, res := e.vh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.vh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 2:
			if e.str.ref == nil {
				e.str.start(&c.ClientID, true)
			}
			n, res := e.str.write(dst[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err
			}
			if res == strref.WouldBlock {
				e.blocking = e.str.ref
				return total, strref.WouldBlock
			}
			if res == strref.Finished {
				e.step++
				e.str = stringWriter{}
			} else if n == 0 {
				return total, strref.Continue
			}
		case 3, 4, 5, 6:
			ref, prefixed := e.connectStringField(c, e.step)
			if e.str.ref == nil {
				e.str.start(ref, prefixed)
			}
			if ref.Len == 0 {
				e.step++
				e.str = stringWriter{}
				continue
			}
			n, res := e.str.write(dst[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err
			}
			if res == strref.WouldBlock {
				e.blocking = e.str.ref
				return total, strref.WouldBlock
			}
			if res == strref.Finished {
				e.step++
				e.str = stringWriter{}
			} else if n == 0 {
				return total, strref.Continue
			}
		case 7:
			return total, strref.Finished
		}
	}
	return total, strref.Continue
}

func (e *Encoder) connectStringField(c *Connect, step int) (*strref.Ref, bool) {
	switch step {
	case 3:
		return &c.WillTopic, true
	case 4:
		return &c.WillMessage, true
	case 5:
		return &c.UserName, true
	default:
		return &c.Password, true
	}
}

func publishRemainingLength(p *Publish, qos uint8) int {
	n := 2 + p.Topic.Len
	if qos > 0 {
		n += 2
	}
	n += p.Payload.Len
	return n
}

func (e *Encoder) stepPublish(dst []byte) (int, strref.Result) {
	p := e.entry.Value.(*Publish)
	qos := publishQoS(e.entry.Kind)
	total := 0

	for total < len(dst) {
		switch e.step {
		case 0:
			if e.fh.n == 0 {
				p.Payload.Reset()
				var flags byte
				if p.Retain {
					flags |= 0x01
				}
				flags |= (qos & 0x03) << 1
				if e.entry.EncodeCount > 0 {
					flags |= 0x08
				}
				e.fillFixedHeader(TypePublish, flags, publishRemainingLength(p, qos))
			}
			n, res := e.fh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.fh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 1:
			if e.str.ref == nil {
				e.str.start(&p.Topic, true)
			}
			n, res := e.str.write(dst[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err
			}
			if res == strref.WouldBlock {
				e.blocking = e.str.ref
				return total, strref.WouldBlock
			}
			if res == strref.Finished {
				e.step++
				e.str = stringWriter{}
			} else if n == 0 {
				return total, strref.Continue
			}
		case 2:
			if qos == 0 {
				e.step++
				continue
			}
			if e.id.n == 0 {
				e.id.fill(byte(p.PacketID>>8), byte(p.PacketID))
			}
			n, res := e.id.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.id = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 3:
			n, res := p.Payload.Encode(dst[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err
			}
			if res == strref.WouldBlock {
				e.blocking = &p.Payload
				return total, strref.WouldBlock
			}
			if res == strref.Finished {
				e.step++
			} else if n == 0 {
				return total, strref.Continue
			}
		case 4:
			e.entry.EncodeCount++
			return total, strref.Finished
		}
	}
	return total, strref.Continue
}

func publishQoS(k store.Kind) uint8 {
	switch k {
	case store.KindPublish1:
		return 1
	case store.KindPublish2:
		return 2
	default:
		return 0
	}
}

func subscribeRemainingLength(s *Subscribe) int {
	n := 2
	for _, sub := range s.Subscriptions {
		n += 2 + sub.Topic.Len + 1
	}
	return n
}

func (e *Encoder) stepSubscribe(dst []byte) (int, strref.Result) {
	s := e.entry.Value.(*Subscribe)
	total := 0

	for total < len(dst) {
		switch e.step {
		case 0:
			if e.fh.n == 0 {
				e.fillFixedHeader(TypeSubscribe, 0x02, subscribeRemainingLength(s))
			}
			n, res := e.fh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.fh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 1:
			if e.id.n == 0 {
				e.id.fill(byte(s.PacketID>>8), byte(s.PacketID))
			}
			n, res := e.id.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.id = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 2:
			if e.sub >= len(s.Subscriptions) {
				return total, strref.Finished
			}
			sub := &s.Subscriptions[e.sub]
			if e.subStep == 0 {
				if e.str.ref == nil {
					e.str.start(&sub.Topic, true)
				}
				n, res := e.str.write(dst[total:])
				total += n
				if res == strref.Err {
					return total, strref.Err
				}
				if res == strref.WouldBlock {
					e.blocking = e.str.ref
					return total, strref.WouldBlock
				}
				if res == strref.Finished {
					e.subStep = 1
					e.str = stringWriter{}
				} else if n == 0 {
					return total, strref.Continue
				}
				continue
			}
			if e.qos.n == 0 {
				e.qos.fill(sub.QoS & 0x03)
			}
			n, res := e.qos.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.sub++
				e.subStep = 0
				e.qos = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		}
	}
	return total, strref.Continue
}

func unsubscribeRemainingLength(u *Unsubscribe) int {
	n := 2
	for _, t := range u.Topics {
		n += 2 + t.Len
	}
	return n
}

func (e *Encoder) stepUnsubscribe(dst []byte) (int, strref.Result) {
	u := e.entry.Value.(*Unsubscribe)
	total := 0

	for total < len(dst) {
		switch e.step {
		case 0:
			if e.fh.n == 0 {
				e.fillFixedHeader(TypeUnsubscribe, 0x02, unsubscribeRemainingLength(u))
			}
			n, res := e.fh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.fh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 1:
			if e.id.n == 0 {
				e.id.fill(byte(u.PacketID>>8), byte(u.PacketID))
			}
			n, res := e.id.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.id = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 2:
			if e.sub >= len(u.Topics) {
				return total, strref.Finished
			}
			topic := &u.Topics[e.sub]
			if e.str.ref == nil {
				e.str.start(topic, true)
			}
			n, res := e.str.write(dst[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err
			}
			if res == strref.WouldBlock {
				e.blocking = e.str.ref
				return total, strref.WouldBlock
			}
			if res == strref.Finished {
				e.sub++
				e.str = stringWriter{}
			} else if n == 0 {
				return total, strref.Continue
			}
		}
	}
	return total, strref.Continue
}

func (e *Encoder) stepIDOnly(dst []byte) (int, strref.Result) {
	id := e.entry.Value.(*IDOnly)
	total := 0

	for total < len(dst) {
		switch e.step {
		case 0:
			if e.fh.n == 0 {
				typ, flags := idOnlyTypeFlags(e.entry.Kind)
				e.fillFixedHeader(typ, flags, 2)
			}
			n, res := e.fh.drain(dst[total:])
			total += n
			if res == strref.Finished {
				e.step++
				e.fh = scratchBuf{}
			}
			if n == 0 {
				return total, strref.Continue
			}
		case 1:
			if e.id.n == 0 {
				e.id.fill(byte(id.PacketID>>8), byte(id.PacketID))
			}
			n, res := e.id.drain(dst[total:])
			total += n
			if res == strref.Finished {
				return total, strref.Finished
			}
			if n == 0 {
				return total, strref.Continue
			}
		}
	}
	return total, strref.Continue
}

func idOnlyTypeFlags(k store.Kind) (uint8, uint8) {
	switch k {
	case store.KindPubAck:
		return TypePubAck, 0
	case store.KindPubRec:
		return TypePubRec, 0
	case store.KindPubRel:
		return TypePubRel, 0x02
	default:
		return TypePubComp, 0
	}
}

func (e *Encoder) stepNoBody(dst []byte) (int, strref.Result) {
	total := 0
	for total < len(dst) {
		if e.fh.n == 0 {
			typ := uint8(TypePingReq)
			if e.entry.Kind == store.KindDisconnect {
				typ = TypeDisconnect
			}
			e.fillFixedHeader(typ, 0, 0)
		}
		n, res := e.fh.drain(dst[total:])
		total += n
		if res == strref.Finished {
			return total, strref.Finished
		}
		if n == 0 {
			return total, strref.Continue
		}
	}
	return total, strref.Continue
}
