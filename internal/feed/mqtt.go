package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/xtxerr/ebismon/internal/errors"
	"github.com/xtxerr/ebismon/internal/logging"
)

var mqttLog = logging.Component("feed.mqtt")

// MQTTConfig configures the MQTT subscriber.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// Topic is the subscription filter. A '+' level names the device
	// when the payload carries no parameter.
	Topic string
	QoS   byte

	ConnectTimeout time.Duration
}

// Message is the payload of one scan event.
type Message struct {
	Parameter string    `json:"parameter"`
	Values    []float64 `json:"values"`
}

// MQTT subscribes to scan events published on a broker.
type MQTT struct {
	config MQTTConfig
	sink   Sink

	scans    atomic.Int64
	rejected atomic.Int64
}

var _ Source = (*MQTT)(nil)

// NewMQTT creates an MQTT source delivering to sink.
func NewMQTT(cfg MQTTConfig, sink Sink) *MQTT {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	return &MQTT{config: cfg, sink: sink}
}

// Name implements Source.
func (m *MQTT) Name() string { return "mqtt" }

// Run connects to the broker and subscribes on every (re)connect. A broker
// that is not reachable at startup is retried in the background.
func (m *MQTT) Run(ctx context.Context) error {
	opts := paho.NewClientOptions().
		AddBroker(m.config.Broker).
		SetClientID(m.config.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOrderMatters(true)

	if m.config.Username != "" {
		opts.SetUsername(m.config.Username)
		opts.SetPassword(m.config.Password)
	}

	opts.SetOnConnectHandler(func(c paho.Client) {
		token := c.Subscribe(m.config.Topic, m.config.QoS, m.onMessage)
		if !token.WaitTimeout(m.config.ConnectTimeout) {
			mqttLog.Error("subscribe timeout", "topic", m.config.Topic)
			return
		}
		if err := token.Error(); err != nil {
			mqttLog.Error("subscribe failed", "topic", m.config.Topic, "error", err)
			return
		}
		mqttLog.Info("subscribed", "broker", m.config.Broker, "topic", m.config.Topic)
	})
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		mqttLog.Warn("connection lost", "broker", m.config.Broker, "error", err)
	})

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(m.config.ConnectTimeout) {
		mqttLog.Warn("broker not reachable yet, retrying in background", "broker", m.config.Broker)
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("connect to broker: %w", err)
	}

	<-ctx.Done()

	client.Disconnect(1000) // 1 second timeout
	mqttLog.Info("disconnected", "scans", m.scans.Load(), "rejected", m.rejected.Load())
	return nil
}

func (m *MQTT) onMessage(_ paho.Client, msg paho.Message) {
	_ = m.HandleMessage(msg.Topic(), msg.Payload())
}

// HandleMessage decodes one event and hands it to the sink.
func (m *MQTT) HandleMessage(topic string, payload []byte) error {
	m.scans.Add(1)

	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		m.rejected.Add(1)
		mqttLog.Warn("malformed payload", "topic", topic, "error", err)
		return errors.NewInvalidBatch(fmt.Sprintf("decode payload: %v", err))
	}

	parameter := msg.Parameter
	if parameter == "" {
		parameter = topicDevice(m.config.Topic, topic)
	}

	if err := m.sink.OnBatch(parameter, msg.Values); err != nil {
		m.rejected.Add(1)
		mqttLog.Warn("scan rejected", "topic", topic, "parameter", parameter, "error", err)
		return err
	}
	return nil
}

// topicDevice returns the topic level matched by the first '+' of filter,
// or "" if there is none.
func topicDevice(filter, topic string) string {
	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i := range f {
		if i >= len(t) {
			break
		}
		if f[i] == "+" {
			return t[i]
		}
	}
	return ""
}

// Stats returns source counters.
func (m *MQTT) Stats() Stats {
	return Stats{Scans: m.scans.Load(), Rejected: m.rejected.Load()}
}
