package portal

import (
	"context"
	"encoding/json"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/royale-server/event"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
	"sync"
)

// Stub mocks Portal.
type Stub struct {
	mock.Mock
	// logger is the logger to use when calling Logger. If not set, this will always
	// default to a nop logger.
	logger *zap.Logger
}

// Subscribe to the given Topic. Calls mock.Mock.
func (s *Stub) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	return s.Called(ctx, topic).Get(0).(*Newsletter[any])
}

// Publish the given serializable payload to a topic. Calls mock.Mock.
func (s *Stub) Publish(ctx context.Context, topic Topic, payload interface{}) {
	s.Called(ctx, topic, payload)
}

// Logger returns the logger set for the Stub. If not set, a nop-logger will be
// returned.
func (s *Stub) Logger() *zap.Logger {
	if s.logger == nil {
		return zap.NewNop()
	}
	return s.logger
}

// Published is a message published to a Loopback.
type Published struct {
	Topic   Topic
	Payload json.RawMessage
}

// Loopback is an in-memory Portal. Published messages are forwarded to
// subscribers of the exact topic and recorded.
type Loopback struct {
	logger *zap.Logger
	// m locks all following fields.
	m           sync.Mutex
	subscribers map[Topic][]chan event.Event[any]
	published   []Published
}

// NewLoopback creates a new Loopback.
func NewLoopback() *Loopback {
	return &Loopback{
		logger:      zap.NewNop(),
		subscribers: make(map[Topic][]chan event.Event[any]),
	}
}

// Subscribe to the given Topic. The Newsletter is closed when the context is
// done.
func (l *Loopback) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	lifetime, cancel := context.WithCancel(ctx)
	receive := make(chan event.Event[any], 64)
	l.m.Lock()
	l.subscribers[topic] = append(l.subscribers[topic], receive)
	l.m.Unlock()
	go func() {
		<-lifetime.Done()
		l.m.Lock()
		defer l.m.Unlock()
		subs := l.subscribers[topic]
		for i, sub := range subs {
			if sub == receive {
				l.subscribers[topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		close(receive)
	}()
	return &Newsletter[any]{
		unregisterFn: cancel,
		Receive:      receive,
	}
}

// Publish records the payload and forwards it to subscribers without blocking.
func (l *Loopback) Publish(_ context.Context, topic Topic, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	l.m.Lock()
	defer l.m.Unlock()
	l.published = append(l.published, Published{Topic: topic, Payload: raw})
	for _, sub := range l.subscribers[topic] {
		select {
		case sub <- event.Event[any]{Publish: &paho.Publish{Topic: string(topic), Payload: raw}}:
		default:
		}
	}
}

// Logger returns a nop logger.
func (l *Loopback) Logger() *zap.Logger {
	return l.logger
}

// Published returns all published messages for the given topic.
func (l *Loopback) Published(topic Topic) []Published {
	l.m.Lock()
	defer l.m.Unlock()
	published := make([]Published, 0)
	for _, p := range l.published {
		if p.Topic == topic {
			published = append(published, p)
		}
	}
	return published
}

// Subscribers returns the number of subscribers for the given topic.
func (l *Loopback) Subscribers(topic Topic) int {
	l.m.Lock()
	defer l.m.Unlock()
	return len(l.subscribers[topic])
}
