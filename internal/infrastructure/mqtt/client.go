package mqtt

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Shashankc-probeplus/essl-agent-backend/internal/infrastructure/config"
)

// Connection tuning.
const (
	connectTimeout  = 10 * time.Second
	publishTimeout  = 5 * time.Second
	keepAlive       = 30 * time.Second
	maxReconnectGap = 60 * time.Second
)

// Sentinel errors returned by the client.
var (
	// ErrNotConnected indicates a publish was attempted while disconnected.
	ErrNotConnected = errors.New("mqtt: not connected")

	// ErrPublishTimeout indicates the broker didn't acknowledge in time.
	ErrPublishTimeout = errors.New("mqtt: publish timed out")
)

// Client is a thin publisher over the paho MQTT client. The agent only
// ever publishes (the event mirror); there is no subscription surface.
//
// Thread Safety: all methods are safe for concurrent use.
type Client struct {
	client pahomqtt.Client
	qos    byte
}

// Connect establishes a connection to the local broker.
//
// Automatic reconnection is enabled with capped backoff; a publish
// during an outage fails fast rather than queueing stale events.
func Connect(cfg config.MirrorConfig) (*Client, error) {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectGap)
	opts.SetOrderMatters(true)

	client := pahomqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: connect timed out after %s", connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connecting to broker: %w", err)
	}

	return &Client{
		client: client,
		qos:    byte(cfg.QoS),
	}, nil
}

// Publish sends a payload to a topic and waits for the broker ack.
func (c *Client) Publish(topic string, payload []byte) error {
	if !c.client.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return ErrPublishTimeout
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: publishing to %s: %w", topic, err)
	}
	return nil
}

// IsConnected reports whether the broker connection is up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close disconnects from the broker, allowing in-flight work to finish.
func (c *Client) Close() {
	const disconnectQuiesceMs = 250
	c.client.Disconnect(disconnectQuiesceMs)
}
