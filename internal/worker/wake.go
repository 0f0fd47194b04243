package worker

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nsqio/go-nsq"
)

type Publisher interface {
	Publish(topic string, body []byte) error
}

type WakeMessage struct {
	Queue string `json:"queue"`
}

// WakePublisher announces enqueues on an NSQ topic so workers in other
// processes stop waiting for their next poll. Losing a message only delays
// work, the jobs themselves live in the queue store.
type WakePublisher struct {
	pub   Publisher
	topic string
}

func NewWakePublisher(pub Publisher, topic string) *WakePublisher {
	return &WakePublisher{pub: pub, topic: topic}
}

func (p *WakePublisher) Notify(ctx context.Context, queue string) {
	body, _ := json.Marshal(WakeMessage{Queue: queue})
	if err := p.pub.Publish(p.topic, body); err != nil {
		slog.WarnContext(ctx, "failed to publish wake-up", "topic", p.topic, "queue", queue, "error", err)
	}
}

type Waker interface {
	Wake()
}

// WakeConsumer wakes local workers for every message on the wake topic.
type WakeConsumer struct {
	waker Waker
}

func NewWakeConsumer(w Waker) *WakeConsumer {
	return &WakeConsumer{waker: w}
}

func (c *WakeConsumer) HandleMessage(m *nsq.Message) error {
	c.waker.Wake()
	return nil
}
