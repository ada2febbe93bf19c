// Package mqtt publishes engine broadcasts for recent-call displays and
// other collaborators listening on the broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"crm-callengine/pkg/types"
)

// Client publishes engine broadcasts over MQTT. It implements
// types.EventPublisher.
type Client struct {
	client      paho.Client
	topicPrefix string
	qos         byte
}

// NewClient creates a new MQTT client
func NewClient(broker string, port int, username, password, clientID, topicPrefix string, qos byte) *Client {
	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", broker, port)).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(false)

	if username != "" {
		opts.SetUsername(username)
		opts.SetPassword(password)
	}

	opts.SetOnConnectHandler(func(paho.Client) {
		log.Printf("Connected to MQTT broker %s:%d", broker, port)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		log.Printf("MQTT connection lost: %v", err)
	})

	return &Client{
		client:      paho.NewClient(opts),
		topicPrefix: topicPrefix,
		qos:         qos,
	}
}

// Connect establishes connection to the MQTT broker
func (c *Client) Connect() error {
	token := c.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out connecting to MQTT broker")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Disconnect closes the MQTT connection
func (c *Client) Disconnect() {
	c.client.Disconnect(250)
	log.Println("Disconnected from MQTT broker")
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// PublishCallEvent publishes a single call event on its per-type topic.
func (c *Client) PublishCallEvent(event types.CallEvent) error {
	topic := fmt.Sprintf("%s/events/%s", c.topicPrefix, event.Type)

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal call event: %w", err)
	}

	return c.publish(topic, payload, false)
}

// PublishEngineStatus publishes the retained current-state message.
func (c *Client) PublishEngineStatus(status types.EngineStatusMessage) error {
	topic := fmt.Sprintf("%s/status", c.topicPrefix)

	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal engine status: %w", err)
	}

	return c.publish(topic, payload, true)
}

// PublishHistory publishes the retained recent-call history.
func (c *Client) PublishHistory(history types.CallHistory) error {
	topic := fmt.Sprintf("%s/history", c.topicPrefix)

	payload, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("failed to marshal call history: %w", err)
	}

	return c.publish(topic, payload, true)
}

// publish sends a message to the MQTT broker
func (c *Client) publish(topic string, payload []byte, retain bool) error {
	token := c.client.Publish(topic, c.qos, retain, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}
	return nil
}
