package events

import (
	"strings"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"zapblast/config"
)

// RabbitPublisher pushes events onto per-type queues. When no broker URL is
// configured every publish is a silent no-op, so the rest of the engine does
// not need to care whether a broker exists.
type RabbitPublisher struct {
	mu             sync.Mutex
	conn           *amqp091.Connection
	channel        *amqp091.Channel
	enabled        bool
	queue          string
	queuePrefix    string
	specificEvents map[string]bool
}

// NewRabbitPublisher connects to the broker. Connection failures disable
// publishing rather than failing startup; campaign dispatch must not depend
// on broker availability.
func NewRabbitPublisher(cfg config.RabbitMQConfig) *RabbitPublisher {
	p := &RabbitPublisher{
		queue:          cfg.Queue,
		queuePrefix:    cfg.QueuePrefix,
		specificEvents: cfg.SpecificEvents,
	}
	if p.specificEvents == nil {
		p.specificEvents = make(map[string]bool)
	}

	if cfg.URL == "" {
		log.Info().Msg("RABBITMQ_URL is not set. RabbitMQ publishing disabled.")
		return p
	}

	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().
		Str("queue", p.queue).
		Str("prefix", p.queuePrefix).
		Msg("RabbitMQ connection established")
	return p
}

// Enabled reports whether a broker connection is live.
func (p *RabbitPublisher) Enabled() bool {
	return p.enabled
}

// queueName routes an event to its queue: a dedicated one when the event
// type is configured as specific, the shared default otherwise.
func (p *RabbitPublisher) queueName(eventType string) string {
	if p.specificEvents[eventType] {
		return p.queuePrefix + "_" + strings.ToLower(eventType)
	}
	return p.queuePrefix + "_" + p.queue
}

// Publish declares the queue (idempotent) and pushes the payload.
func (p *RabbitPublisher) Publish(eventType string, data []byte) error {
	if !p.enabled {
		return nil
	}

	queue := p.queueName(eventType)

	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := p.channel.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Could not declare RabbitMQ queue")
		return err
	}

	err = p.channel.Publish(
		"",    // exchange (default)
		queue, // routing key = queue
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("Could not publish to RabbitMQ")
		return err
	}

	log.Debug().Str("queue", queue).Str("eventType", eventType).Msg("Published message to RabbitMQ")
	return nil
}

// Close tears down the channel and connection.
func (p *RabbitPublisher) Close() {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.enabled = false
}
