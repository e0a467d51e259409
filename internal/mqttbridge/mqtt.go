package mqttbridge

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client wraps a Paho MQTT client.
type Client struct {
	client mqtt.Client
	qos    byte
}

// Options configures the MQTT connection.
type Options struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Dial creates and connects an MQTT client.
func Dial(opts Options) (*Client, error) {
	clientOpts := mqtt.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(60 * time.Second)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username).SetPassword(opts.Password)
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	token.Wait()
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connecting to MQTT broker %s: %w", opts.Broker, err)
	}

	return &Client{
		client: client,
		qos:    opts.QoS,
	}, nil
}

func (c *Client) Publish(_ context.Context, topic string, payload []byte) error {
	token := c.client.Publish(topic, c.qos, false, payload)
	token.Wait()
	return token.Error()
}

func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	token := c.client.Subscribe(topic, c.qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	token.Wait()
	return token.Error()
}

func (c *Client) Close() error {
	c.client.Disconnect(1000)
	return nil
}
