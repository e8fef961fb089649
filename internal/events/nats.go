package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
)

// subscriptionBuffer bounds each subscription's queue. Events arriving
// while it is full are dropped and counted.
const subscriptionBuffer = 64

func connect(url, name string, defaults, opts []nats.Option) (*nats.Conn, error) {
	all := append([]nats.Option{nats.Name(name)}, defaults...)
	nc, err := nats.Connect(url, append(all, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// NATSPublisher sends events as JSON on the subject named by their topic.
type NATSPublisher struct {
	conn *nats.Conn
}

func NewNATSPublisher(url string, opts ...nats.Option) (*NATSPublisher, error) {
	nc, err := connect(url, "issuesearch-publisher", nil, opts)
	if err != nil {
		return nil, err
	}
	return &NATSPublisher{conn: nc}, nil
}

func (p *NATSPublisher) Publish(ctx context.Context, topic string, event any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", topic, err)
	}
	if err := p.conn.Publish(topic, data); err != nil {
		return fmt.Errorf("publishing %s: %w", topic, err)
	}
	return nil
}

// Flush waits until the server has processed every published message.
func (p *NATSPublisher) Flush() error { return p.conn.Flush() }

func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}

// NATSSubscriber delivers events from NATS subjects. It reconnects
// indefinitely.
type NATSSubscriber struct {
	conn    *nats.Conn
	dropped atomic.Uint64
}

func NewNATSSubscriber(url string, opts ...nats.Option) (*NATSSubscriber, error) {
	nc, err := connect(url, "issuesearch-subscriber", []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	}, opts)
	if err != nil {
		return nil, err
	}
	return &NATSSubscriber{conn: nc}, nil
}

// Dropped reports how many events were discarded because a subscriber
// fell behind.
func (s *NATSSubscriber) Dropped() uint64 { return s.dropped.Load() }

// subscription owns the channel of one Subscribe call. The NATS callback
// and cancel never send on or close the channel concurrently.
type subscription struct {
	mu     sync.Mutex
	ch     chan Envelope
	done   bool
	onDrop func()
}

func (sub *subscription) deliver(msg *nats.Msg) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.done {
		return
	}
	select {
	case sub.ch <- Envelope{Topic: msg.Subject, Data: msg.Data}:
	default:
		sub.onDrop()
	}
}

// close discards anything still queued and closes the channel.
func (sub *subscription) close() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.done {
		return
	}
	sub.done = true
	for len(sub.ch) > 0 {
		<-sub.ch
	}
	close(sub.ch)
}

func (s *NATSSubscriber) Subscribe(topic string) (<-chan Envelope, func(), error) {
	sub := &subscription{
		ch:     make(chan Envelope, subscriptionBuffer),
		onDrop: func() { s.dropped.Add(1) },
	}
	ns, err := s.conn.Subscribe(topic, sub.deliver)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	// The server must know the subscription before events published on
	// other connections reach it.
	if err := s.conn.Flush(); err != nil {
		_ = ns.Unsubscribe()
		return nil, nil, fmt.Errorf("flushing subscription to %s: %w", topic, err)
	}
	cancel := func() {
		_ = ns.Unsubscribe()
		sub.close()
	}
	return sub.ch, cancel, nil
}

func (s *NATSSubscriber) Close() error {
	s.conn.Close()
	return nil
}
