// Package notify publishes a command record for every committed schedule
// change so device executors can follow the playlist.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const publishTimeout = 5 * time.Second

const (
	OpCreate  = "create"
	OpUpdate  = "update"
	OpDelete  = "delete"
	OpShunt   = "shunt"
	OpRelease = "release"
)

type CommandRecord struct {
	ID      uuid.UUID `json:"id"`
	Op      string    `json:"op"`
	EventID int       `json:"eventid,omitempty"`
	Channel string    `json:"channel"`
	At      time.Time `json:"at"`
	Event   any       `json:"event,omitempty"`
}

// client is the part of mqtt.Client the publisher uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// Publisher sends command records to <prefix>/<channel>/events. A nil
// Publisher drops every record.
type Publisher struct {
	client  client
	topic   string
	channel string
}

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Info().Msg("[mqtt] connected to broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Warn().Err(err).Msg("[mqtt] connection lost")
}

// Connect dials brokerURL. An empty URL disables publishing and returns nil.
func Connect(brokerURL, prefix, channel string) (*Publisher, error) {
	if brokerURL == "" {
		log.Info().Msg("[mqtt] no broker configured, command records disabled")
		return nil, nil
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("playout-%s-%s", channel, uuid.NewString()[:8]))
	opts.SetAutoReconnect(true)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return newPublisher(c, prefix, channel), nil
}

func newPublisher(c client, prefix, channel string) *Publisher {
	return &Publisher{client: c, topic: fmt.Sprintf("%s/%s/events", prefix, channel), channel: channel}
}

func (p *Publisher) Topic() string {
	if p == nil {
		return ""
	}
	return p.topic
}

// Publish sends one record. Errors are logged, not returned.
func (p *Publisher) Publish(op string, eventID int, event any) {
	if p == nil {
		return
	}
	rec := CommandRecord{
		ID:      uuid.New(),
		Op:      op,
		EventID: eventID,
		Channel: p.channel,
		At:      time.Now().UTC(),
		Event:   event,
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("op", op).Msg("[mqtt] failed to encode command record")
		return
	}
	token := p.client.Publish(p.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		log.Warn().Str("topic", p.topic).Str("op", op).Msg("[mqtt] publish timed out")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", p.topic).Str("op", op).Msg("[mqtt] publish failed")
		return
	}
	log.Debug().Str("topic", p.topic).Str("op", op).Int("event_id", eventID).Msg("[mqtt] command record sent")
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.client.Disconnect(250)
	log.Info().Msg("[mqtt] disconnected")
}
