// Package wire implements the MQTT 3.1.1 framing: fixed-header and
// variable-length encoding, the per-kind packet structs, and the
// resumable Encoder/Decoder pair that walk them a byte range at a time.
package wire

import "github.com/gonzalop/lmqttcore/internal/strref"

// Packet type nibbles, from the fixed header's upper 4 bits.
const (
	TypeConnect     = 1
	TypeConnAck     = 2
	TypePublish     = 3
	TypePubAck      = 4
	TypePubRec      = 5
	TypePubRel      = 6
	TypePubComp     = 7
	TypeSubscribe   = 8
	TypeSubAck      = 9
	TypeUnsubscribe = 10
	TypeUnsubAck    = 11
	TypePingReq     = 12
	TypePingResp    = 13
	TypeDisconnect  = 14
)

// CONNACK return codes.
const (
	ConnAccepted                     = 0
	ConnRefusedUnacceptableProtocol  = 1
	ConnRefusedIdentifierRejected    = 2
	ConnRefusedServerUnavailable     = 3
	ConnRefusedBadUsernameOrPassword = 4
	ConnRefusedNotAuthorized         = 5
	connRefusedMax                   = 5
)

// SUBACK return codes.
const (
	SubAckQoS0    = 0x00
	SubAckQoS1    = 0x01
	SubAckQoS2    = 0x02
	SubAckFailure = 0x80
)

// Connect is the outbound CONNECT packet payload plus the CONNACK fields
// the decoder fills in when the reply arrives.
type Connect struct {
	ClientID     strref.Ref
	CleanSession bool
	KeepAlive    uint16
	WillTopic    strref.Ref
	WillMessage  strref.Ref
	WillQoS      uint8
	WillRetain   bool
	UserName     strref.Ref
	Password     strref.Ref

	SessionPresent bool
	ReturnCode     uint8
}

// Subscription is one (topic filter, requested QoS) pair of a SUBSCRIBE
// packet. ReturnCode is filled in by the decoder from the matching SUBACK.
type Subscription struct {
	Topic      strref.Ref
	QoS        uint8
	ReturnCode uint8
}

// Subscribe is the outbound SUBSCRIBE packet payload.
type Subscribe struct {
	PacketID      uint16
	Subscriptions []Subscription
}

// Unsubscribe is the outbound UNSUBSCRIBE packet payload.
type Unsubscribe struct {
	PacketID uint16
	Topics   []strref.Ref
}

// Publish carries both an outbound PUBLISH command and an inbound
// delivered PUBLISH; only one direction is live for a given instance.
type Publish struct {
	PacketID uint16
	Topic    strref.Ref
	Payload  strref.Ref
	QoS      uint8
	Retain   bool
	Dup      bool
}

// IDOnly is the payload shape shared by PUBREL and the three
// client-generated acks (PUBACK, PUBREC, PUBCOMP): a fixed header and a
// packet id, nothing else.
type IDOnly struct {
	PacketID uint16
}

// SubAck is the decoded inbound SUBACK packet.
type SubAck struct {
	PacketID    uint16
	ReturnCodes []uint8
}
