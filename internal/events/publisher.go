package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher публикует события файлов.
type Publisher interface {
	Publish(ctx context.Context, event FileEvent) error
	Close() error
}

// AMQPPublisher — Publisher поверх RabbitMQ.
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	// amqp.Channel не допускает конкурентную публикацию
	mu      sync.Mutex
	enabled bool
	logger  *slog.Logger
}

// NewPublisher подключается к RabbitMQ и объявляет exchange.
// Пустой url — публикация отключена, события только логируются.
func NewPublisher(url string, logger *slog.Logger) (*AMQPPublisher, error) {
	logger = logger.With(slog.String("component", "event_publisher"))
	if url == "" {
		logger.Info("RabbitMQ не настроен, публикация событий отключена")
		return &AMQPPublisher{logger: logger}, nil
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ошибка открытия канала RabbitMQ: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}

	logger.Info("Публикация событий включена", slog.String("exchange", ExchangeName))
	return &AMQPPublisher{
		conn:    conn,
		channel: ch,
		enabled: true,
		logger:  logger,
	}, nil
}

func declareExchange(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("ошибка объявления exchange %s: %w", ExchangeName, err)
	}
	return nil
}

// Enabled сообщает, подключён ли публикатор к брокеру.
func (p *AMQPPublisher) Enabled() bool {
	return p.enabled
}

// Publish отправляет событие с routing key, равным типу события.
func (p *AMQPPublisher) Publish(ctx context.Context, event FileEvent) error {
	if !p.enabled {
		p.logger.Debug("Событие не опубликовано: RabbitMQ отключён",
			slog.String("event", string(event.Type)),
			slog.Int64("file_id", event.FileID),
		)
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("ошибка сериализации события: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.channel.PublishWithContext(pubCtx,
		ExchangeName,
		string(event.Type),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    event.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("ошибка публикации события %s: %w", event.Type, err)
	}

	p.logger.Debug("Событие опубликовано",
		slog.String("event", string(event.Type)),
		slog.Int64("file_id", event.FileID),
	)
	return nil
}

// Close закрывает канал и соединение.
func (p *AMQPPublisher) Close() error {
	if !p.enabled {
		return nil
	}
	if err := p.channel.Close(); err != nil {
		p.logger.Warn("Ошибка закрытия канала RabbitMQ", slog.String("error", err.Error()))
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия соединения RabbitMQ: %w", err)
	}
	return nil
}
