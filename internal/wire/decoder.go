package wire

import (
	"github.com/gonzalop/lmqttcore/internal/idset"
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
)

// AllocateResult is returned by the message-allocate callbacks the decoder
// asks before streaming an inbound PUBLISH's topic or payload.
type AllocateResult int

const (
	AllocateSuccess AllocateResult = iota
	AllocateIgnore
	AllocateError
)

// Callbacks are the decoder's external collaborators: message storage for
// inbound PUBLISH, and one notification per acknowledgement kind. Every
// field may be left nil; a nil callback just means that event is dropped
// (Store mutation and id-set bookkeeping still happen).
type Callbacks struct {
	AllocateTopic   func(p *Publish, length int) AllocateResult
	AllocatePayload func(p *Publish, length int) AllocateResult
	OnPublish       func(p *Publish) bool
	OnPublishDone   func(p *Publish)

	OnConnAck   func(entry store.Entry, connect *Connect)
	OnPubAckIn  func(entry store.Entry)
	OnPubRecIn  func(entry store.Entry)
	OnPubCompIn func(entry store.Entry)
	OnSubAck    func(entry store.Entry, sa SubAck)
	OnUnsubAck  func(entry store.Entry)
	OnPingResp  func(entry store.Entry)
}

type decodePhase int

const (
	phaseHeader decodePhase = iota
	phaseBody
)

// Decoder parses one packet at a time out of the bytes it is fed,
// resumable at byte granularity, suspending when an application stream
// write would block.
type Decoder struct {
	st  *store.Store
	ids *idset.Set
	cb  Callbacks

	phase  decodePhase
	fh     fixedHeaderState
	header FixedHeader

	bodyRead int
	sub      int // per-type sub-step

	idBuf [2]byte
	idPos int

	byteBuf [2]byte
	bytePos int
	byteLen int

	topicLenBuf [2]byte
	topicLenPos int
	topicLen    int
	skipLeft    int
	pub         Publish
	pubIgnore   bool

	subAck   SubAck
	subEntry *store.Entry

	blocking *strref.Ref
}

// NewDecoder creates a Decoder driving st and deduplicating inbound QoS-2
// PUBLISHes against ids.
func NewDecoder(st *store.Store, ids *idset.Set, cb Callbacks) *Decoder {
	return &Decoder{st: st, ids: ids, cb: cb}
}

func (d *Decoder) Reset() {
	*d = Decoder{st: d.st, ids: d.ids, cb: d.cb}
}

// SetStore repoints the decoder at a different Store, for the handshake's
// connect-store-to-main-store handoff. Only valid between packets.
func (d *Decoder) SetStore(st *store.Store) { d.st = st }

// resetBody clears every per-packet decode scratch field; called once when
// a fixed header has just finished and body parsing is about to begin.
func (d *Decoder) resetBody() {
	d.bodyRead = 0
	d.sub = 0
	d.bytePos = 0
	d.byteLen = 0
	d.idPos = 0
	d.topicLenPos = 0
	d.topicLen = 0
	d.skipLeft = 0
	d.pubIgnore = false
	d.subEntry = nil
	d.subAck = SubAck{}
}

// BlockingRef returns the String Reference the decoder is currently
// suspended on, if its last step ended in WouldBlock.
func (d *Decoder) BlockingRef() (*strref.Ref, bool) {
	return d.blocking, d.blocking != nil
}

// Decode consumes bytes from src, advancing at most one packet's worth of
// parsing, and reports how many bytes it consumed.
func (d *Decoder) Decode(src []byte) (int, Status, error) {
	total := 0
	d.blocking = nil

	for total < len(src) || (d.phase == phaseBody && d.bodyRead >= d.header.RemainingLength) {
		if d.phase == phaseHeader {
			ok := d.fh.feed(src[total])
			total++
			if !ok {
				return total, StatusErr, wireErr(ErrFixedHeaderInvalidRemainingLength)
			}
			if !d.fh.complete() {
				continue
			}
			hdr, minimal := d.fh.header()
			if !minimal {
				return total, StatusErr, wireErr(ErrFixedHeaderInvalidRemainingLength)
			}
			if err := validateType(hdr.Type); err != nil {
				return total, StatusErr, err
			}
			if err := validateFlags(hdr.Type, hdr.Flags); err != nil {
				return total, StatusErr, err
			}
			d.header = hdr
			d.phase = phaseBody
			d.resetBody()
			continue
		}

		n, res, err := d.decodeBody(src[total:])
		total += n
		d.bodyRead += n

		switch res {
		case strref.Err:
			return total, StatusErr, err
		case strref.WouldBlock:
			if total == 0 {
				return 0, StatusWouldBlock, nil
			}
			return total, StatusOK, nil
		case strref.Continue:
			// keep looping; more bytes may be in src
		case strref.Finished:
			d.st.Touch()
			d.phase = phaseHeader
			d.fh.reset()
			return total, StatusOK, nil
		}

		if n == 0 && res == strref.Continue {
			// no progress possible with what's left in src
			return total, StatusOK, nil
		}
	}

	if total == 0 {
		return 0, StatusWouldBlock, nil
	}
	return total, StatusOK, nil
}

func validateType(typ uint8) error {
	switch typ {
	case TypeConnAck, TypePublish, TypePubAck, TypePubRec, TypePubRel,
		TypePubComp, TypeSubAck, TypeUnsubAck, TypePingResp:
		return nil
	default:
		return wireErr(ErrFixedHeaderInvalidType)
	}
}

func validateFlags(typ uint8, flags uint8) error {
	switch typ {
	case TypePublish:
		if (flags>>1)&0x03 == 0x03 {
			return wireErr(ErrFixedHeaderInvalidFlags)
		}
		return nil
	case TypePubRel:
		if flags != 0x02 {
			return wireErr(ErrFixedHeaderInvalidFlags)
		}
		return nil
	default:
		if flags != 0 {
			return wireErr(ErrFixedHeaderInvalidFlags)
		}
		return nil
	}
}

func (d *Decoder) decodeBody(src []byte) (int, strref.Result, error) {
	switch d.header.Type {
	case TypeConnAck:
		return d.decodeConnAck(src)
	case TypePublish:
		return d.decodePublish(src)
	case TypePubAck:
		return d.decodeSimpleID(src, store.KindPublish1, ErrPubAckInvalidLength, d.cb.OnPubAckIn)
	case TypePubRec:
		return d.decodePubRec(src)
	case TypePubRel:
		return d.decodePubRel(src)
	case TypePubComp:
		return d.decodeSimpleID(src, store.KindPubRel, ErrPubCompInvalidLength, d.cb.OnPubCompIn)
	case TypeSubAck:
		return d.decodeSubAck(src)
	case TypeUnsubAck:
		return d.decodeSimpleID(src, store.KindUnsubscribe, ErrUnsubAckInvalidLength, d.cb.OnUnsubAck)
	case TypePingResp:
		return d.decodePingResp(src)
	default:
		return 0, strref.Err, wireErr(ErrFixedHeaderInvalidType)
	}
}

func (d *Decoder) readBytes(src []byte, buf []byte) (int, bool) {
	n := copy(buf[d.bytePos:d.byteLen], src)
	d.bytePos += n
	return n, d.bytePos >= d.byteLen
}

func (d *Decoder) decodeConnAck(src []byte) (int, strref.Result, error) {
	if d.header.RemainingLength != 2 {
		return 0, strref.Err, wireErr(ErrConnAckInvalidLength)
	}
	if d.sub == 0 {
		d.byteLen = 2
		d.sub = 1
	}
	n, done := d.readBytes(src, d.byteBuf[:])
	if !done {
		return n, strref.Continue, nil
	}

	ackFlags := d.byteBuf[0]
	returnCode := d.byteBuf[1]
	if ackFlags&0xFE != 0 {
		return n, strref.Err, wireErr(ErrConnAckInvalidFlags)
	}
	if returnCode > connRefusedMax {
		return n, strref.Err, wireErr(ErrConnAckInvalidReturnCode)
	}

	entry, ok := d.st.PopMarkedBy(store.KindConnect, 0)
	if ok {
		connect, _ := entry.Value.(*Connect)
		if connect != nil {
			connect.SessionPresent = ackFlags&0x01 != 0
			connect.ReturnCode = returnCode
		}
		if d.cb.OnConnAck != nil {
			d.cb.OnConnAck(entry, connect)
		}
	}
	return n, strref.Finished, nil
}

func (d *Decoder) decodeSimpleID(src []byte, kind store.Kind, errCode ErrorCode, cb func(store.Entry)) (int, strref.Result, error) {
	if d.header.RemainingLength != 2 {
		return 0, strref.Err, wireErr(errCode)
	}
	if d.sub == 0 {
		d.byteLen = 2
		d.sub = 1
	}
	n, done := d.readBytes(src, d.byteBuf[:])
	if !done {
		return n, strref.Continue, nil
	}

	id := uint16(d.byteBuf[0])<<8 | uint16(d.byteBuf[1])
	entry, ok := d.st.PopMarkedBy(kind, id)
	if ok && cb != nil {
		cb(entry)
	}
	return n, strref.Finished, nil
}

func (d *Decoder) decodePubRec(src []byte) (int, strref.Result, error) {
	if d.header.RemainingLength != 2 {
		return 0, strref.Err, wireErr(ErrPubRecInvalidLength)
	}
	if d.sub == 0 {
		d.byteLen = 2
		d.sub = 1
	}
	n, done := d.readBytes(src, d.byteBuf[:])
	if !done {
		return n, strref.Continue, nil
	}

	id := uint16(d.byteBuf[0])<<8 | uint16(d.byteBuf[1])
	entry, ok := d.st.PopMarkedBy(store.KindPublish2, id)
	if ok {
		entry.Kind = store.KindPubRel
		entry.EncodeCount = 0
		d.st.Append(entry)
		if d.cb.OnPubRecIn != nil {
			d.cb.OnPubRecIn(entry)
		}
	}
	return n, strref.Finished, nil
}

func (d *Decoder) decodePubRel(src []byte) (int, strref.Result, error) {
	if d.header.RemainingLength != 2 {
		return 0, strref.Err, wireErr(ErrPubRelInvalidLength)
	}
	if d.sub == 0 {
		d.byteLen = 2
		d.sub = 1
	}
	n, done := d.readBytes(src, d.byteBuf[:])
	if !done {
		return n, strref.Continue, nil
	}

	id := uint16(d.byteBuf[0])<<8 | uint16(d.byteBuf[1])
	d.ids.Remove(id)
	d.st.Append(store.Entry{Kind: store.KindPubComp, PacketID: id, Value: &IDOnly{PacketID: id}})
	return n, strref.Finished, nil
}

func (d *Decoder) decodePingResp(src []byte) (int, strref.Result, error) {
	if d.header.RemainingLength != 0 {
		return 0, strref.Err, wireErr(ErrDecodeNonZeroRemainingLength)
	}
	entry, ok := d.st.PopMarkedBy(store.KindPingReq, 0)
	if ok && d.cb.OnPingResp != nil {
		d.cb.OnPingResp(entry)
	}
	return 0, strref.Finished, nil
}

func (d *Decoder) decodeSubAck(src []byte) (int, strref.Result, error) {
	const subStepID = 0
	const subStepCodes = 1

	if d.sub == subStepID {
		if d.bytePos == 0 {
			d.byteLen = 2
		}
		n, done := d.readBytes(src, d.byteBuf[:])
		if !done {
			return n, strref.Continue, nil
		}
		id := uint16(d.byteBuf[0])<<8 | uint16(d.byteBuf[1])

		if d.header.RemainingLength < 3 {
			return n, strref.Err, wireErr(ErrSubAckInvalidLength)
		}

		entry, ok := d.st.PopMarkedBy(store.KindSubscribe, id)
		if !ok {
			return n, strref.Err, wireErr(ErrSubAckInvalidLength)
		}
		d.subEntry = &entry
		sub, _ := entry.Value.(*Subscribe)
		wantCodes := d.header.RemainingLength - 2
		if sub == nil || len(sub.Subscriptions) != wantCodes {
			return n, strref.Err, wireErr(ErrSubAckInvalidLength)
		}
		d.subAck = SubAck{PacketID: id, ReturnCodes: make([]uint8, 0, wantCodes)}
		d.sub = subStepCodes
		d.bytePos = 0
		return n, strref.Continue, nil
	}

	sub, _ := d.subEntry.Value.(*Subscribe)
	total := 0
	for total < len(src) && len(d.subAck.ReturnCodes) < len(sub.Subscriptions) {
		code := src[total]
		total++
		if code != SubAckQoS0 && code != SubAckQoS1 && code != SubAckQoS2 && code != SubAckFailure {
			return total, strref.Err, wireErr(ErrSubAckInvalidReturnCode)
		}
		sub.Subscriptions[len(d.subAck.ReturnCodes)].ReturnCode = code
		d.subAck.ReturnCodes = append(d.subAck.ReturnCodes, code)
	}
	if len(d.subAck.ReturnCodes) < len(sub.Subscriptions) {
		return total, strref.Continue, nil
	}
	if d.cb.OnSubAck != nil {
		d.cb.OnSubAck(*d.subEntry, d.subAck)
	}
	return total, strref.Finished, nil
}

// PUBLISH sub-steps.
const (
	pubStepTopicLen = iota
	pubStepTopic
	pubStepID
	pubStepPayload
	pubStepDone
)

func (d *Decoder) decodePublish(src []byte) (int, strref.Result, error) {
	qos := (d.header.Flags >> 1) & 0x03
	total := 0

	for total < len(src) || d.bodyRead+total >= d.header.RemainingLength {
		switch d.sub {
		case pubStepTopicLen:
			n := copy(d.topicLenBuf[d.topicLenPos:2], src[total:])
			d.topicLenPos += n
			total += n
			if d.topicLenPos < 2 {
				return total, strref.Continue, nil
			}
			d.topicLen = int(d.topicLenBuf[0])<<8 | int(d.topicLenBuf[1])

			minLen := 2 + d.topicLen
			if qos > 0 {
				minLen += 2
			}
			if d.topicLen == 0 || d.header.RemainingLength < minLen || d.header.RemainingLength == 0 {
				return total, strref.Err, wireErr(ErrPublishInvalidLength)
			}

			d.pub = Publish{QoS: qos, Retain: d.header.Flags&0x01 != 0, Dup: d.header.Flags&0x08 != 0}
			d.pubIgnore = false
			if d.cb.AllocateTopic != nil {
				switch d.cb.AllocateTopic(&d.pub, d.topicLen) {
				case AllocateError:
					return total, strref.Err, wireErr(ErrPublishAllocateTopicFailed)
				case AllocateIgnore:
					d.pubIgnore = true
					d.skipLeft = d.topicLen
				default:
					d.pub.Topic.Len = d.topicLen
					d.pub.Topic.Reset()
				}
			} else {
				d.pubIgnore = true
				d.skipLeft = d.topicLen
			}
			d.sub = pubStepTopic
		case pubStepTopic:
			if d.pubIgnore {
				n := d.skipLeft
				if n > len(src)-total {
					n = len(src) - total
				}
				total += n
				d.skipLeft -= n
				if d.skipLeft > 0 {
					return total, strref.Continue, nil
				}
				d.sub = pubStepID
				continue
			}
			n, res := d.pub.Topic.Put(src[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err, wireErr(ErrPublishWriteTopicFailed)
			}
			if res == strref.WouldBlock {
				d.blocking = &d.pub.Topic
				return total, strref.WouldBlock, nil
			}
			if res == strref.Finished {
				d.sub = pubStepID
			} else if n == 0 {
				return total, strref.Continue, nil
			}
		case pubStepID:
			if qos == 0 {
				d.sub = pubStepPayload
				continue
			}
			n := copy(d.idBuf[d.idPos:2], src[total:])
			d.idPos += n
			total += n
			if d.idPos < 2 {
				return total, strref.Continue, nil
			}
			d.pub.PacketID = uint16(d.idBuf[0])<<8 | uint16(d.idBuf[1])

			if qos == 2 && d.ids.Contains(d.pub.PacketID) {
				d.pubIgnore = true
			}
			d.sub = pubStepPayload
		case pubStepPayload:
			payloadLen := d.header.RemainingLength - 2 - d.topicLen
			if qos > 0 {
				payloadLen -= 2
			}
			if d.pub.Payload.Len == 0 && !d.pubIgnore && d.pub.Payload.Buf == nil && d.pub.Payload.Read == nil && d.pub.Payload.Write == nil && payloadLen > 0 {
				if d.cb.AllocatePayload != nil {
					switch d.cb.AllocatePayload(&d.pub, payloadLen) {
					case AllocateError:
						return total, strref.Err, wireErr(ErrPublishAllocatePayloadFailed)
					case AllocateIgnore:
						d.pubIgnore = true
						d.skipLeft = payloadLen
					default:
						d.pub.Payload.Len = payloadLen
						d.pub.Payload.Reset()
					}
				} else {
					d.pubIgnore = true
					d.skipLeft = payloadLen
				}
			} else if d.pubIgnore && d.skipLeft == 0 {
				d.skipLeft = payloadLen
			}

			if d.pubIgnore {
				n := d.skipLeft
				if n > len(src)-total {
					n = len(src) - total
				}
				total += n
				d.skipLeft -= n
				if d.skipLeft > 0 {
					return total, strref.Continue, nil
				}
				d.sub = pubStepDone
				continue
			}

			n, res := d.pub.Payload.Put(src[total:])
			total += n
			if res == strref.Err {
				return total, strref.Err, wireErr(ErrPublishWritePayloadFailed)
			}
			if res == strref.WouldBlock {
				d.blocking = &d.pub.Payload
				return total, strref.WouldBlock, nil
			}
			if res == strref.Finished {
				d.sub = pubStepDone
			} else if n == 0 {
				return total, strref.Continue, nil
			}
		case pubStepDone:
			return total, strref.Finished, d.finishPublish(qos)
		}
	}
	return total, strref.Continue, nil
}

func (d *Decoder) finishPublish(qos uint8) error {
	if d.pubIgnore {
		if qos == 2 {
			if err := d.ids.Put(d.pub.PacketID); err != nil {
				return wireErr(ErrPublishIDSetFull)
			}
		}
		d.enqueueAckForPublish(qos)
		return nil
	}

	switch qos {
	case 0:
		if d.cb.OnPublish != nil {
			d.cb.OnPublish(&d.pub)
		}
	case 1:
		if d.cb.OnPublish != nil {
			d.cb.OnPublish(&d.pub)
		}
		d.enqueueAckForPublish(qos)
	case 2:
		if err := d.ids.Put(d.pub.PacketID); err != nil {
			return wireErr(ErrPublishIDSetFull)
		}
		if d.cb.OnPublish != nil {
			d.cb.OnPublish(&d.pub)
		}
		d.enqueueAckForPublish(qos)
	}
	if d.cb.OnPublishDone != nil {
		d.cb.OnPublishDone(&d.pub)
	}
	return nil
}

func (d *Decoder) enqueueAckForPublish(qos uint8) {
	switch qos {
	case 1:
		d.st.Append(store.Entry{Kind: store.KindPubAck, PacketID: d.pub.PacketID,
			Value: &IDOnly{PacketID: d.pub.PacketID}})
	case 2:
		d.st.Append(store.Entry{Kind: store.KindPubRec, PacketID: d.pub.PacketID,
			Value: &IDOnly{PacketID: d.pub.PacketID}})
	}
}
