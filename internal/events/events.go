// Package events publishes job progress and printer notifications over MQTT.
package events

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"bluecat/internal/config"
	"bluecat/internal/queue"
)

const connectTimeout = 10 * time.Second

// Publisher is a best-effort MQTT sink. Messages are sent with QoS 0 and
// dropped while the broker is unreachable.
type Publisher struct {
	client mqtt.Client
	topic  string
}

// New configures a client for cfg.Broker; call Start to connect
func New(cfg config.MQTTConfig) *Publisher {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connected")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Msg("mqtt connection lost")
	}

	return NewWithClient(mqtt.NewClient(opts), cfg.Topic)
}

// NewWithClient publishes through an existing client under topic
func NewWithClient(client mqtt.Client, topic string) *Publisher {
	return &Publisher{client: client, topic: topic}
}

// Start begins connecting. With connect retry enabled the client keeps
// trying in the background, so a broker that is down is not fatal.
func (p *Publisher) Start() error {
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn().Msg("mqtt broker not reachable yet, retrying in background")
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

func (p *Publisher) Stop() {
	p.client.Disconnect(1000)
}

// JobEvent implements queue.Publisher
func (p *Publisher) JobEvent(e queue.Event) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Error().Err(err).Msg("failed to encode job event")
		return
	}
	p.publish("jobs", body)
}

// Notification forwards a raw device notification as hex
func (p *Publisher) Notification(b []byte) {
	p.publish("notify", []byte(hex.EncodeToString(b)))
}

func (p *Publisher) publish(sub string, body []byte) {
	if !p.client.IsConnected() {
		return
	}
	p.client.Publish(p.topic+"/"+sub, 0, false, body)
}
