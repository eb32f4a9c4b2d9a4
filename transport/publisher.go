package transport

import (
	"encoding/json"
	"fmt"
)

// Publisher is the outbound surface handed to producers (alarms, history
// sync, streams). It hides the queue/tracker pairing: Publish is
// fire-and-forget through the queue, PublishTracked additionally registers
// the message for acknowledgment tracking.
type Publisher struct {
	queue *Queue
	acks  *AckTracker
}

func NewPublisher(queue *Queue, acks *AckTracker) *Publisher {
	return &Publisher{queue: queue, acks: acks}
}

func (p *Publisher) Publish(msg any) error {
	return p.queue.Enqueue(msg)
}

// PublishTracked enqueues msg and tracks it under id until the cloud
// acknowledges it or retries run out.
func (p *Publisher) PublishTracked(id string, msg any) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal tracked message: %w", err)
	}
	p.acks.Register(id, raw)
	p.queue.EnqueueRaw(raw)
	return nil
}
