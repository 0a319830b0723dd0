package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/bigkaa/goartstore/file-manager/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewFileEvent(t *testing.T) {
	f := &model.StoredFile{
		ID:        10,
		UUID:      uuid.New(),
		LineageID: uuid.New(),
		Version:   2,
		OwnerID:   3,
		Disk:      "local",
		Path:      "uploads/a.png",
		MimeType:  "image/png",
		Size:      2048,
	}
	e := NewFileEvent(FileUploaded, f)

	if e.Type != FileUploaded || e.FileID != 10 || e.FileUUID != f.UUID.String() || e.Version != 2 {
		t.Errorf("событие = %+v", e)
	}
	if e.OccurredAt.IsZero() {
		t.Error("OccurredAt не заполнен")
	}

	body, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if raw["type"] != "file.uploaded" || raw["file_id"] != float64(10) {
		t.Errorf("JSON = %s", body)
	}
}

// TestPublisher_Disabled проверяет, что без URL публикация — no-op.
func TestPublisher_Disabled(t *testing.T) {
	p, err := NewPublisher("", testLogger())
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	if p.Enabled() {
		t.Error("публикатор должен быть отключён")
	}
	if err := p.Publish(context.Background(), FileEvent{Type: FileDeleted, FileID: 1}); err != nil {
		t.Errorf("Publish: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestConsumer_Process(t *testing.T) {
	var got []int64
	handlerErr := errors.New("база недоступна")
	c, err := NewConsumer("", 1, func(_ context.Context, fileID int64) error {
		got = append(got, fileID)
		if fileID == 13 {
			return handlerErr
		}
		return nil
	}, testLogger())
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	ctx := context.Background()

	body, _ := json.Marshal(FileEvent{Type: ThumbnailRequested, FileID: 7})
	if requeue, err := c.process(ctx, string(ThumbnailRequested), body); err != nil || requeue {
		t.Errorf("process = %v, %v", requeue, err)
	}

	// Чужой routing key подтверждается без вызова обработчика
	if _, err := c.process(ctx, string(FileDeleted), body); err != nil {
		t.Errorf("чужой routing key: %v", err)
	}

	if requeue, err := c.process(ctx, string(ThumbnailRequested), []byte("{")); err == nil || requeue {
		t.Errorf("битое тело: requeue=%v err=%v", requeue, err)
	}

	body, _ = json.Marshal(FileEvent{Type: ThumbnailRequested, FileID: 13})
	if requeue, err := c.process(ctx, string(ThumbnailRequested), body); !errors.Is(err, handlerErr) || !requeue {
		t.Errorf("ошибка обработчика: requeue=%v err=%v", requeue, err)
	}

	if len(got) != 2 || got[0] != 7 || got[1] != 13 {
		t.Errorf("обработчик вызван с %v", got)
	}

	if err := c.Start(ctx); err != nil {
		t.Errorf("Start отключённого потребителя: %v", err)
	}
	c.Stop()
}

func thumbnailDelivery(t *testing.T, fileID int64) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(FileEvent{Type: ThumbnailRequested, FileID: fileID})
	if err != nil {
		t.Fatal(err)
	}
	return amqp.Delivery{RoutingKey: string(ThumbnailRequested), Body: body}
}

// TestConsumer_ResubscribesAfterChannelClose — после закрытия канала
// доставки потребитель повторяет подписку и продолжает обработку.
func TestConsumer_ResubscribesAfterChannelClose(t *testing.T) {
	handled := make(chan int64, 4)
	c, err := NewConsumer("", 1, func(_ context.Context, fileID int64) error {
		handled <- fileID
		return nil
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	first := make(chan amqp.Delivery, 1)
	second := make(chan amqp.Delivery, 1)
	var (
		mu    sync.Mutex
		calls int
	)
	c.enabled = true
	c.minDelay, c.maxDelay = time.Millisecond, 4*time.Millisecond
	c.subscribe = func() (<-chan amqp.Delivery, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		switch calls {
		case 1:
			return first, nil
		case 2:
			return nil, errors.New("connection refused")
		default:
			return second, nil
		}
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	wait := func(want int64) {
		t.Helper()
		select {
		case got := <-handled:
			if got != want {
				t.Fatalf("обработан file_id %d, ожидался %d", got, want)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("file_id %d не обработан", want)
		}
	}

	first <- thumbnailDelivery(t, 1)
	wait(1)
	close(first)

	second <- thumbnailDelivery(t, 2)
	wait(2)

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Errorf("подписок: %d, ожидалось 3", calls)
	}
}

// TestConsumer_StopDuringReconnect — Stop не ждёт удачного переподключения.
func TestConsumer_StopDuringReconnect(t *testing.T) {
	c, err := NewConsumer("", 1, func(context.Context, int64) error { return nil }, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	msgs := make(chan amqp.Delivery)
	subscribed := false
	c.enabled = true
	c.minDelay, c.maxDelay = time.Millisecond, time.Millisecond
	c.subscribe = func() (<-chan amqp.Delivery, error) {
		if !subscribed {
			subscribed = true
			return msgs, nil
		}
		return nil, errors.New("connection refused")
	}

	if err := c.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	close(msgs)
	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop завис в цикле переподключения")
	}
}

func TestNextDelay(t *testing.T) {
	d := time.Second
	var got []time.Duration
	for range 6 {
		d = nextDelay(d, 30*time.Second)
		got = append(got, d)
	}
	want := []time.Duration{2, 4, 8, 16, 30, 30}
	for i := range want {
		if got[i] != want[i]*time.Second {
			t.Errorf("шаг %d: %v, ожидалось %v", i, got[i], want[i]*time.Second)
		}
	}
}
