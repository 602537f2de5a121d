package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"byteme/rabbitmq"
)

// Published is one message captured by RecordingPublisher.
type Published struct {
	Exchange   string
	RoutingKey string
	Body       json.RawMessage
	Delay      time.Duration
}

// RecordingPublisher stores what would have been published. Fail maps a
// routing key to the error its publish should return.
type RecordingPublisher struct {
	mu       sync.Mutex
	Messages []Published
	Fail     map[string]error
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{Fail: map[string]error{}}
}

func (p *RecordingPublisher) Publish(_ context.Context, exchange, routingKey string, payload interface{}, _ ...rabbitmq.PublishOption) error {
	return p.record(exchange, routingKey, payload, 0)
}

func (p *RecordingPublisher) PublishDelayed(_ context.Context, routingKey string, payload interface{}, delay time.Duration, _ ...rabbitmq.PublishOption) error {
	return p.record("delay_exchange", routingKey, payload, delay)
}

func (p *RecordingPublisher) record(exchange, key string, payload interface{}, delay time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.Fail[key]; err != nil {
		return err
	}

	var body []byte
	switch v := payload.(type) {
	case json.RawMessage:
		body = v
	case []byte:
		body = v
	default:
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = b
	}
	p.Messages = append(p.Messages, Published{Exchange: exchange, RoutingKey: key, Body: body, Delay: delay})
	return nil
}

// Keys returns the routing keys published so far, in order.
func (p *RecordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := make([]string, 0, len(p.Messages))
	for _, m := range p.Messages {
		keys = append(keys, m.RoutingKey)
	}
	return keys
}

// Find returns the first message published with key.
func (p *RecordingPublisher) Find(key string) (Published, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, m := range p.Messages {
		if m.RoutingKey == key {
			return m, true
		}
	}
	return Published{}, false
}
