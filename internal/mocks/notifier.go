package mocks

import (
	"context"
	"sync"

	"github.com/cradoe/walletrecon/internal/notify"
)

// Notifier records events. When Err is set every call fails with it.
type Notifier struct {
	Err error

	mu     sync.Mutex
	events []notify.Event
}

func (n *Notifier) Notify(ctx context.Context, event notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Err != nil {
		return n.Err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *Notifier) Events() []notify.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Event(nil), n.events...)
}

// Producer records messages handed to a stream.
type Producer struct {
	Err error

	mu       sync.Mutex
	messages map[string][]string
}

func (p *Producer) ProduceMessage(topic, message string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.Err != nil {
		return p.Err
	}
	if p.messages == nil {
		p.messages = map[string][]string{}
	}
	p.messages[topic] = append(p.messages[topic], message)
	return nil
}

func (p *Producer) Messages(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages[topic]...)
}
