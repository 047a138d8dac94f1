package mq

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/berfenger/antra2mqtt/internal/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var ErrNotConnected = errors.New("rabbitmq not connected")

// RabbitMQProducer publishes to a topic exchange. The connection is opened
// in the background and reopened after it drops; Produce fails fast while
// disconnected.
type RabbitMQProducer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	cfg        config.SinkConfig
	logger     *zap.Logger
	mu         sync.Mutex
	isClosed   bool
	reconnectC chan struct{}
}

func NewRabbitMQProducer(cfg config.SinkConfig, logger *zap.Logger) (*RabbitMQProducer, error) {
	if cfg.URL == "" || cfg.Exchange == "" {
		return nil, errors.New("rabbitmq sink needs an url and an exchange")
	}
	p := &RabbitMQProducer{
		cfg:        cfg,
		logger:     logger,
		reconnectC: make(chan struct{}, 1),
	}

	go func() {
		if err := p.connect(); err != nil {
			p.logger.Warn("rabbitmq initial connection failed", zap.Error(err))
			p.signalReconnect()
		}
	}()
	go p.handleReconnect()

	return p, nil
}

func (p *RabbitMQProducer) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return nil
	}

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("rabbitmq dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("rabbitmq channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		p.cfg.Exchange, // name
		"topic",        // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("rabbitmq exchange declare: %w", err)
	}

	p.conn = conn
	p.ch = ch

	go func() {
		<-conn.NotifyClose(make(chan *amqp.Error, 1))
		p.signalReconnect()
	}()

	p.logger.Info("rabbitmq connected", zap.String("exchange", p.cfg.Exchange))
	return nil
}

func (p *RabbitMQProducer) signalReconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.isClosed {
		select {
		case p.reconnectC <- struct{}{}:
		default:
		}
	}
}

func (p *RabbitMQProducer) handleReconnect() {
	for range p.reconnectC {
		for {
			if err := p.connect(); err != nil {
				p.logger.Error("rabbitmq reconnect failed", zap.Error(err))
				time.Sleep(5 * time.Second)
				continue
			}
			break
		}
	}
}

// Produce publishes payload with key as routing key.
func (p *RabbitMQProducer) Produce(ctx context.Context, key string, payload []byte) error {
	p.mu.Lock()
	if p.isClosed {
		p.mu.Unlock()
		return errors.New("rabbitmq producer closed")
	}
	if p.ch == nil || p.ch.IsClosed() {
		p.mu.Unlock()
		p.signalReconnect()
		return ErrNotConnected
	}
	ch := p.ch
	p.mu.Unlock()

	err := ch.PublishWithContext(ctx,
		p.cfg.Exchange, // exchange
		key,            // routing key
		false,          // mandatory
		false,          // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        payload,
			Timestamp:   time.Now(),
		})
	if err != nil {
		return fmt.Errorf("rabbitmq publish: %w", err)
	}
	return nil
}

func (p *RabbitMQProducer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.isClosed {
		return nil
	}
	p.isClosed = true
	close(p.reconnectC)
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
