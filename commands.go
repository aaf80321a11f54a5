package lmqttcore

import (
	"github.com/gonzalop/lmqttcore/internal/store"
	"github.com/gonzalop/lmqttcore/internal/strref"
	"github.com/gonzalop/lmqttcore/internal/wire"
)

const maxWireStringLen = 65535

// maxRemainingLength is the largest value the 4-byte remaining-length field
// can carry.
const maxRemainingLength = 268435455

// CompletionFunc is invoked exactly once for every accepted command: with
// succeeded=true on the matching acknowledgement (or immediate transport
// hand-off for QoS 0 and DISCONNECT), succeeded=false on cleanup. value is
// the same packet struct the command was submitted with, except on a
// SUBSCRIBE's successful completion, where it is the decoded SubAck.
type CompletionFunc func(value any, succeeded bool)

func wrapCompletion(fn CompletionFunc) store.CompletionFunc {
	if fn == nil {
		return nil
	}
	return func(_ any, value any, succeeded bool) { fn(value, succeeded) }
}

func validateStringRef(ref strref.Ref) error {
	if ref.Len < 0 || ref.Len > maxWireStringLen {
		return ErrTopicTooLong
	}
	return nil
}

func validateQoS(qos uint8) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	return nil
}

func validateConnect(c *Connect) error {
	if err := validateStringRef(c.ClientID); err != nil {
		return ErrClientIDTooLong
	}
	if c.ClientID.Len == 0 && !c.CleanSession {
		return ErrClientIDRequiredForContinuedSession
	}
	if err := validateStringRef(c.WillTopic); err != nil {
		return err
	}
	if err := validateStringRef(c.WillMessage); err != nil {
		return err
	}
	if err := validateStringRef(c.UserName); err != nil {
		return err
	}
	if err := validateStringRef(c.Password); err != nil {
		return err
	}
	if c.Password.Len > 0 && c.UserName.Len == 0 {
		return ErrPasswordWithoutUserName
	}
	if c.WillTopic.Len > 0 {
		if err := validateQoS(c.WillQoS); err != nil {
			return err
		}
	}
	return nil
}

func validateSubscribe(s *Subscribe) error {
	if len(s.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	for i := range s.Subscriptions {
		sub := &s.Subscriptions[i]
		if sub.Topic.Len == 0 {
			return ErrTopicRequired
		}
		if err := validateStringRef(sub.Topic); err != nil {
			return err
		}
		if err := validateQoS(sub.QoS); err != nil {
			return err
		}
	}
	return nil
}

func validateUnsubscribe(u *Unsubscribe) error {
	if len(u.Topics) == 0 {
		return ErrNoTopics
	}
	for _, t := range u.Topics {
		if t.Len == 0 {
			return ErrTopicRequired
		}
		if err := validateStringRef(t); err != nil {
			return err
		}
	}
	return nil
}

func validatePublish(p *Publish) error {
	if p.Topic.Len == 0 {
		return ErrTopicRequired
	}
	if err := validateStringRef(p.Topic); err != nil {
		return err
	}
	overhead := 2 + p.Topic.Len
	if p.QoS > 0 {
		overhead += 2
	}
	if p.Payload.Len < 0 || p.Payload.Len > maxRemainingLength-overhead {
		return ErrPayloadTooLong
	}
	return validateQoS(p.QoS)
}

// Connect validates req and submits it as this client's CONNECT, moving the
// client from INITIAL to CONNECTING. onComplete fires once, with
// succeeded=true on CONNACK acceptance and succeeded=false on rejection or
// on finalize while still connecting.
func (c *Client) Connect(req *Connect, onComplete CompletionFunc) error {
	if c.state == StateFailed {
		return ErrFinalized
	}
	if c.state != StateInitial {
		return ErrCommandNotAllowed
	}
	if err := validateConnect(req); err != nil {
		return err
	}

	entry := store.Entry{Kind: store.KindConnect, Value: req, OnComplete: wrapCompletion(onComplete)}
	if !c.connectStore.Append(entry) {
		return ErrStoreFull
	}

	c.enc.Reset()
	c.dec.Reset()
	c.rx.Reset()
	c.tx.Reset()
	c.currentStore = c.connectStore
	c.state = StateConnecting
	return nil
}

// Subscribe validates req, assigns it a packet id, and submits it against
// the main store. Only legal once CONNECTED.
func (c *Client) Subscribe(req *Subscribe, onComplete CompletionFunc) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := validateSubscribe(req); err != nil {
		return err
	}
	if !c.mainStore.IsQueueable() {
		return ErrStoreFull
	}
	req.PacketID = c.mainStore.GetID()
	entry := store.Entry{Kind: store.KindSubscribe, PacketID: req.PacketID, Value: req, OnComplete: wrapCompletion(onComplete)}
	c.mainStore.Append(entry)
	return nil
}

// Unsubscribe is Subscribe's mirror for UNSUBSCRIBE.
func (c *Client) Unsubscribe(req *Unsubscribe, onComplete CompletionFunc) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := validateUnsubscribe(req); err != nil {
		return err
	}
	if !c.mainStore.IsQueueable() {
		return ErrStoreFull
	}
	req.PacketID = c.mainStore.GetID()
	entry := store.Entry{Kind: store.KindUnsubscribe, PacketID: req.PacketID, Value: req, OnComplete: wrapCompletion(onComplete)}
	c.mainStore.Append(entry)
	return nil
}

// Publish validates req and submits it at its requested QoS. QoS 0 entries
// complete (succeeded=true) as soon as their bytes are handed to the
// transport; QoS 1/2 entries complete on PUBACK/PUBCOMP.
func (c *Client) Publish(req *Publish, onComplete CompletionFunc) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	if err := validatePublish(req); err != nil {
		return err
	}
	if !c.mainStore.IsQueueable() {
		return ErrStoreFull
	}

	kind := store.KindPublish0
	switch req.QoS {
	case 1:
		kind = store.KindPublish1
	case 2:
		kind = store.KindPublish2
	}
	if req.QoS > 0 {
		req.PacketID = c.mainStore.GetID()
	} else {
		req.PacketID = 0
	}

	entry := store.Entry{Kind: kind, PacketID: req.PacketID, Value: req, OnComplete: wrapCompletion(onComplete)}
	c.mainStore.Append(entry)
	return nil
}

// Disconnect enqueues a DISCONNECT; the encoder closes once it has been
// emitted, and the next socket EOF completes the transition back to
// INITIAL.
func (c *Client) Disconnect(onComplete CompletionFunc) error {
	if err := c.requireConnected(); err != nil {
		return err
	}
	entry := store.Entry{Kind: store.KindDisconnect, Value: &wire.IDOnly{}, OnComplete: wrapCompletion(onComplete)}
	if !c.mainStore.Append(entry) {
		return ErrStoreFull
	}
	return nil
}

func (c *Client) requireConnected() error {
	if c.state == StateFailed {
		return ErrFinalized
	}
	if c.state != StateConnected {
		return ErrCommandNotAllowed
	}
	return nil
}
