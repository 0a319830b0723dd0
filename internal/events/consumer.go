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

// ThumbnailHandler строит миниатюру файла fileID.
type ThumbnailHandler func(ctx context.Context, fileID int64) error

const (
	reconnectMinDelay = time.Second
	reconnectMaxDelay = 30 * time.Second
)

// Consumer обрабатывает задания thumbnail.requested.
// При закрытии канала доставки переподключается с нарастающей паузой.
type Consumer struct {
	url      string
	prefetch int

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	// subscribe открывает новую подписку на очередь
	subscribe func() (<-chan amqp.Delivery, error)
	minDelay  time.Duration
	maxDelay  time.Duration

	handler  ThumbnailHandler
	shutdown chan struct{}
	wg       sync.WaitGroup
	enabled  bool
	logger   *slog.Logger
}

// NewConsumer подключается к RabbitMQ и объявляет очередь заданий.
// Пустой url — потребитель отключён.
func NewConsumer(url string, prefetch int, handler ThumbnailHandler, logger *slog.Logger) (*Consumer, error) {
	c := &Consumer{
		url:      url,
		prefetch: max(prefetch, 1),
		minDelay: reconnectMinDelay,
		maxDelay: reconnectMaxDelay,
		handler:  handler,
		shutdown: make(chan struct{}),
		logger:   logger.With(slog.String("component", "thumbnail_consumer")),
	}
	if url == "" {
		return c, nil
	}

	conn, ch, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.channel = ch
	c.subscribe = c.consumeQueue
	c.enabled = true
	return c, nil
}

// dial открывает соединение и канал, объявляет очередь и привязку.
func (c *Consumer) dial() (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("ошибка подключения к RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("ошибка открытия канала RabbitMQ: %w", err)
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("ошибка установки QoS: %w", err)
	}
	if err := declareExchange(ch); err != nil {
		closeAll()
		return nil, nil, err
	}
	if _, err := ch.QueueDeclare(ThumbnailQueue, true, false, false, false, nil); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("ошибка объявления очереди %s: %w", ThumbnailQueue, err)
	}
	if err := ch.QueueBind(ThumbnailQueue, string(ThumbnailRequested), ExchangeName, false, nil); err != nil {
		closeAll()
		return nil, nil, fmt.Errorf("ошибка привязки очереди: %w", err)
	}
	return conn, ch, nil
}

// consumeQueue регистрирует потребителя на текущем канале. Закрытый
// канал или соединение заменяются новыми.
func (c *Consumer) consumeQueue() (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() || c.channel == nil || c.channel.IsClosed() {
		c.closeLocked()
		conn, ch, err := c.dial()
		if err != nil {
			return nil, err
		}
		c.conn, c.channel = conn, ch
	}
	msgs, err := c.channel.Consume(ThumbnailQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("ошибка регистрации потребителя: %w", err)
	}
	return msgs, nil
}

// Start запускает обработку сообщений в фоне.
func (c *Consumer) Start(ctx context.Context) error {
	if !c.enabled {
		c.logger.Info("RabbitMQ не настроен, задания миниатюр выполняются в процессе")
		return nil
	}

	msgs, err := c.subscribe()
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(ctx, msgs)
	}()

	c.logger.Info("Потребитель заданий миниатюр запущен", slog.String("queue", ThumbnailQueue))
	return nil
}

// run обрабатывает сообщения до остановки, переподписываясь
// после каждого закрытия канала доставки.
func (c *Consumer) run(ctx context.Context, msgs <-chan amqp.Delivery) {
	for {
		if c.consume(ctx, msgs) {
			return
		}
		c.logger.Warn("Канал сообщений RabbitMQ закрыт, переподключение")

		var ok bool
		msgs, ok = c.resubscribe(ctx)
		if !ok {
			return
		}
		c.logger.Info("Подписка на очередь восстановлена", slog.String("queue", ThumbnailQueue))
	}
}

// resubscribe повторяет подписку с паузой от minDelay до maxDelay.
// false — потребитель остановлен раньше, чем подписка удалась.
func (c *Consumer) resubscribe(ctx context.Context) (<-chan amqp.Delivery, bool) {
	delay := c.minDelay
	for {
		select {
		case <-c.shutdown:
			return nil, false
		case <-ctx.Done():
			return nil, false
		case <-time.After(delay):
		}

		msgs, err := c.subscribe()
		if err == nil {
			return msgs, true
		}
		c.logger.Warn("Ошибка переподключения к RabbitMQ",
			slog.Duration("retry_in", nextDelay(delay, c.maxDelay)),
			slog.String("error", err.Error()),
		)
		delay = nextDelay(delay, c.maxDelay)
	}
}

// nextDelay удваивает паузу, не превышая limit.
func nextDelay(d, limit time.Duration) time.Duration {
	return min(d*2, limit)
}

// consume читает msgs. true — потребитель остановлен,
// false — канал доставки закрыт брокером.
func (c *Consumer) consume(ctx context.Context, msgs <-chan amqp.Delivery) bool {
	for {
		select {
		case <-c.shutdown:
			return true
		case <-ctx.Done():
			return true
		case msg, ok := <-msgs:
			if !ok {
				return false
			}
			c.handle(ctx, msg)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	requeue, err := c.process(ctx, msg.RoutingKey, msg.Body)
	if err != nil {
		c.logger.Warn("Ошибка обработки задания",
			slog.String("routing_key", msg.RoutingKey),
			slog.String("error", err.Error()),
		)
		if nackErr := msg.Nack(false, requeue); nackErr != nil {
			c.logger.Error("Ошибка NACK", slog.String("error", nackErr.Error()))
		}
		return
	}
	if ackErr := msg.Ack(false); ackErr != nil {
		c.logger.Error("Ошибка ACK", slog.String("error", ackErr.Error()))
	}
}

// process разбирает сообщение и вызывает обработчик.
// requeue — стоит ли вернуть сообщение в очередь при ошибке.
func (c *Consumer) process(ctx context.Context, routingKey string, body []byte) (requeue bool, err error) {
	if EventType(routingKey) != ThumbnailRequested {
		c.logger.Debug("Неизвестный routing key пропущен", slog.String("routing_key", routingKey))
		return false, nil
	}

	var event FileEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return false, fmt.Errorf("некорректное тело задания: %w", err)
	}
	if event.FileID <= 0 {
		return false, fmt.Errorf("в задании отсутствует file_id")
	}
	if err := c.handler(ctx, event.FileID); err != nil {
		return true, err
	}
	return false, nil
}

// Stop останавливает обработку и закрывает соединение.
func (c *Consumer) Stop() {
	close(c.shutdown)
	c.wg.Wait()
	if !c.enabled {
		return
	}
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
	c.logger.Info("Потребитель заданий миниатюр остановлен")
}

func (c *Consumer) closeLocked() {
	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия канала RabbitMQ", slog.String("error", err.Error()))
		}
	}
	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Warn("Ошибка закрытия соединения RabbitMQ", slog.String("error", err.Error()))
		}
	}
	c.channel, c.conn = nil, nil
}
