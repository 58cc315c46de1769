// Package emitter publishes pipeline telemetry to an MQTT broker.
// Telemetry is optional: the daemon skips the emitter entirely when no
// broker is configured, and publish failures never abort the pipeline.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/care/mattecast/internal/config"
)

// MQTTEmitter publishes progress and health messages
type MQTTEmitter struct {
	cfg    *config.Config
	client mqtt.Client

	mu        sync.RWMutex
	published map[string]uint64 // count per topic
	errors    uint64
	connected bool
}

// progressMessage is the JSON payload on the progress topic
type progressMessage struct {
	InstanceID string    `json:"instance_id"`
	Fraction   float64   `json:"fraction"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewMQTTEmitter creates an emitter for the configured broker
func NewMQTTEmitter(cfg *config.Config) *MQTTEmitter {
	return &MQTTEmitter{
		cfg:       cfg,
		published: make(map[string]uint64),
	}
}

// Connect establishes the broker connection with auto-reconnect
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.MQTT.Broker))
	opts.SetClientID(e.cfg.InstanceID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.mu.Lock()
		e.connected = true
		e.mu.Unlock()
		slog.Info("mqtt connection established",
			"broker", e.cfg.MQTT.Broker,
			"client_id", e.cfg.InstanceID,
			"auto_reconnect", "enabled")
	}

	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.mu.Lock()
		e.connected = false
		e.mu.Unlock()
		slog.Warn("mqtt connection lost, will auto-reconnect",
			"error", err,
			"broker", e.cfg.MQTT.Broker,
			"max_retry_interval", "30s")
	}

	e.client = mqtt.NewClient(opts)

	slog.Info("connecting to mqtt broker", "broker", e.cfg.MQTT.Broker)

	token := e.client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()

	return nil
}

// PublishProgress publishes a playback progress fraction
func (e *MQTTEmitter) PublishProgress(fraction float64) error {
	payload, err := json.Marshal(progressMessage{
		InstanceID: e.cfg.InstanceID,
		Fraction:   fraction,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal progress: %w", err)
	}
	return e.publish(e.cfg.MQTT.Topics.Progress, payload)
}

// PublishHealth publishes a health snapshot payload
func (e *MQTTEmitter) PublishHealth(payload []byte) error {
	return e.publish(e.cfg.MQTT.Topics.Health, payload)
}

func (e *MQTTEmitter) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("mqtt not connected")
	}

	token := e.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.mu.Lock()
		e.errors++
		e.mu.Unlock()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("telemetry published",
		"topic", topic,
		"size", len(payload),
	)
	return nil
}

// Disconnect closes the MQTT connection
func (e *MQTTEmitter) Disconnect() error {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250) // 250ms grace period
		slog.Info("mqtt disconnected")
	}

	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()

	return nil
}

// Stats returns emitter statistics
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64)
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
	}
}

// Stats contains emitter statistics
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}
