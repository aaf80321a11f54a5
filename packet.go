package lmqttcore

import "github.com/gonzalop/lmqttcore/internal/wire"

// Packet payloads are the wire package's structs, re-exported here so
// callers can name them without importing internal/wire. Their string
// fields are strref.Ref values, and Config's fields use the clock and store
// types, so those packages are still imported to fill them in.
type (
	Connect      = wire.Connect
	Subscription = wire.Subscription
	Subscribe    = wire.Subscribe
	Unsubscribe  = wire.Unsubscribe
	Publish      = wire.Publish
	SubAck       = wire.SubAck
)

// CONNACK return codes.
const (
	ConnAccepted                     = wire.ConnAccepted
	ConnRefusedUnacceptableProtocol  = wire.ConnRefusedUnacceptableProtocol
	ConnRefusedIdentifierRejected    = wire.ConnRefusedIdentifierRejected
	ConnRefusedServerUnavailable     = wire.ConnRefusedServerUnavailable
	ConnRefusedBadUsernameOrPassword = wire.ConnRefusedBadUsernameOrPassword
	ConnRefusedNotAuthorized         = wire.ConnRefusedNotAuthorized
)

// SUBACK return codes.
const (
	SubAckQoS0    = wire.SubAckQoS0
	SubAckQoS1    = wire.SubAckQoS1
	SubAckQoS2    = wire.SubAckQoS2
	SubAckFailure = wire.SubAckFailure
)

// AllocateResult is what a message-allocate callback reports for an
// inbound PUBLISH's topic or payload.
type AllocateResult = wire.AllocateResult

const (
	AllocateSuccess = wire.AllocateSuccess
	AllocateIgnore  = wire.AllocateIgnore
	AllocateError   = wire.AllocateError
)

// PublishCallbacks are the caller's collaborators for inbound PUBLISH
// delivery. AllocateTopic/AllocatePayload are asked for storage as soon as
// each length is known; OnPublish fires once both have fully arrived;
// OnPublishDone fires right after OnPublish so storage can be released.
// Neither fires for an ignored PUBLISH or one whose decode fails.
type PublishCallbacks struct {
	AllocateTopic   func(p *Publish, length int) AllocateResult
	AllocatePayload func(p *Publish, length int) AllocateResult
	OnPublish       func(p *Publish) bool
	OnPublishDone   func(p *Publish)
}
