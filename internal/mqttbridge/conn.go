// Package mqttbridge connects the ring coordinator to an MQTT broker:
// inbound messages on ring topics trigger ring attempts, and every
// terminal outcome is published as a JSON event.
package mqttbridge

import "context"

// Conn is the broker surface the bridge needs. *Client implements it;
// tests substitute a MockConn.
type Conn interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
	Close() error
}
