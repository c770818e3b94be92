// Package broker wraps the MQTT connection shared by the GPS and IMU
// sources.
package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/shaunagostinho/geonav/internal/logger"
)

// ErrNotConnected is returned when subscribing before Connect succeeded.
var ErrNotConnected = errors.New("mqtt: not connected")

// Config holds the broker connection settings.
type Config struct {
	Broker   string `yaml:"broker" json:"broker"`
	ClientID string `yaml:"client_id" json:"clientId"`
}

// Subscriber is the part of the client the sources use.
type Subscriber interface {
	Subscribe(topic string, handle func(payload []byte)) error
	Unsubscribe(topic string)
}

// Client is an MQTT client with automatic reconnect.
type Client struct {
	cfg    Config
	client mqtt.Client
	log    logger.Logger
}

// New creates an unconnected client. An empty client id gets a random
// suffix so several instances can share a broker.
func New(cfg Config, log logger.Logger) *Client {
	if cfg.Broker == "" {
		cfg.Broker = "tcp://localhost:1883"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "geonav-" + uuid.NewString()[:8]
	}
	c := &Client{cfg: cfg, log: log.With(logger.String("component", "mqtt"))}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn(context.Background(), "connection lost", logger.Err(err))
		}).
		SetOnConnectHandler(func(_ mqtt.Client) {
			c.log.Info(context.Background(), "connected", logger.String("broker", cfg.Broker))
		})
	c.client = mqtt.NewClient(opts)
	return c
}

func (c *Client) Name() string { return "MQTT " + c.cfg.Broker }

// Connect dials the broker and blocks until the handshake completes.
func (c *Client) Connect() error {
	if token := c.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt: connect %s: %w", c.cfg.Broker, token.Error())
	}
	return nil
}

// Close disconnects, allowing 250 ms for in-flight work.
func (c *Client) Close() error {
	c.client.Disconnect(250)
	return nil
}

// Subscribe registers handle for topic. It does not wait for the broker's
// acknowledgement; failures are logged.
func (c *Client) Subscribe(topic string, handle func(payload []byte)) error {
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	token := c.client.Subscribe(topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		handle(msg.Payload())
	})
	go func() {
		if token.Wait() && token.Error() != nil {
			c.log.Warn(context.Background(), "subscribe failed", logger.String("topic", topic), logger.Err(token.Error()))
		}
	}()
	return nil
}

// Unsubscribe drops the topic without waiting for the broker.
func (c *Client) Unsubscribe(topic string) {
	c.client.Unsubscribe(topic)
}
