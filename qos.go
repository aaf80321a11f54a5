package lmqttcore

// QoS represents the MQTT Quality of Service level.
type QoS uint8

// MQTT Quality of Service levels.
//
// These constants provide readable names for the three QoS levels defined
// in the MQTT specification. Using named constants improves code readability
// compared to numeric literals.
//
// Example:
//
//	// More readable
//	pub := &lmqttcore.Publish{Topic: topic, Payload: payload, QoS: uint8(lmqttcore.ExactlyOnce)}
//
//	// vs numeric literals
//	pub := &lmqttcore.Publish{Topic: topic, Payload: payload, QoS: 2}
const (
	// AtMostOnce (QoS 0) - Fire and forget delivery.
	// The message is handed to the transport and the completion callback
	// fires immediately; there is no PUBACK/PUBREC handshake and no retry.
	AtMostOnce QoS = 0

	// AtLeastOnce (QoS 1) - Acknowledged delivery.
	// The message is always delivered at least once. The receiver sends an
	// acknowledgment (PUBACK); duplicate messages may occur on reconnect.
	AtLeastOnce QoS = 1

	// ExactlyOnce (QoS 2) - Assured delivery.
	// The message is always delivered exactly once using a four-step handshake
	// (PUBLISH, PUBREC, PUBREL, PUBCOMP). This is the safest but slowest option.
	ExactlyOnce QoS = 2
)
