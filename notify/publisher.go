// Package notify publishes the outcome of a diagnosis poll to RabbitMQ so that
// other services (reminders, vet dashboards) can react to it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"catcare.com/client/logger"
	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

type Config struct {
	Host       string `envconfig:"CATCARE_RMQ_HOST" required:"true"`
	Port       string `envconfig:"CATCARE_RMQ_PORT" default:"5672"`
	Username   string `envconfig:"CATCARE_RMQ_USERNAME" required:"true"`
	Password   string `envconfig:"CATCARE_RMQ_PASSWORD" required:"true"`
	Exchange   string `envconfig:"CATCARE_RMQ_EXCHANGE" default:"catcare-diagnosis"`
	RoutingKey string `envconfig:"CATCARE_RMQ_ROUTING_KEY" default:"diagnosis.poll"`
}

const (
	OutcomeResolved = "resolved"
	OutcomeFailed   = "failed"
	OutcomeTimedOut = "timed_out"
)

type Event struct {
	DiagnosisID string    `json:"diagnosis_id"`
	Outcome     string    `json:"outcome"`
	Category    string    `json:"category,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	Attempts    int       `json:"attempts"`
	Error       string    `json:"error,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Publisher struct {
	config    Config
	conn      *amqp.Connection
	channel   channel
	rmqLogger zerolog.Logger
}

func ReadConfig() (Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

func NewPublisher(config Config) (*Publisher, error) {
	rmqLogger := logger.NewLogger("RMQ publisher")
	conn, ch, err := setup(getURL(config))
	if err != nil {
		rmqLogger.Error().Err(err).Msg("Could not connect")
		return nil, fmt.Errorf("failed connection: %s", err)
	}
	if err := ch.ExchangeDeclare(
		config.Exchange, // name
		"topic",         // type
		true,            // durable
		false,           // auto-deleted
		false,           // internal
		false,           // no-wait
		nil,             // arguments
	); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %s", err)
	}
	return &Publisher{config: config, conn: conn, channel: ch, rmqLogger: rmqLogger}, nil
}

func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    event.OccurredAt,
		Type:         event.Outcome,
		Body:         body,
	}
	if err := p.channel.Publish(p.config.Exchange, p.config.RoutingKey, false, false, msg); err != nil {
		p.rmqLogger.Error().Err(err).Str("diagnosis_id", event.DiagnosisID).Msg("Could not publish event")
		return err
	}
	p.rmqLogger.Debug().
		Str("diagnosis_id", event.DiagnosisID).
		Str("outcome", event.Outcome).
		Str("message_id", msg.MessageId).
		Msg("Event published")
	return nil
}

func (p *Publisher) Close() {
	_ = p.channel.Close()
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

func getURL(config Config) string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s", config.Username, config.Password, config.Host, config.Port)
}

func setup(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return conn, ch, nil
}
