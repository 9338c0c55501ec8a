// Package portal provides the MQTT transport with typed subscriptions.
package portal

import (
	"context"
	"encoding/json"
	"fmt"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultClientID = "royale-server"
const mqttKeepAlive = 8
const mqttQOS = 0

// BaseTopic is the prefix for all topics. Everything below it is subscribed
// when the connection is established.
const BaseTopic Topic = "lefinal/royale"

// Topic is an MQTT topic.
type Topic string

// Join builds a Topic below BaseTopic from the given levels.
func Join(levels ...string) Topic {
	return Topic(strings.Join(append([]string{string(BaseTopic)}, levels...), "/"))
}

// Config is the config for the Base.
type Config struct {
	// MQTTAddr is the address where the MQTT-server is found.
	MQTTAddr string
	// ClientID is the MQTT client id. If empty, a default one is used.
	ClientID string
}

// Newsletter is used with Portal.Subscribe in order to subscribe to topics.
type Newsletter[payloadT any] struct {
	unregisterFn func()
	// Receive receives when a new message for the subscribed topic was received.
	// When the Newsletter is unsubscribed, the Receive-channel will be closed.
	Receive <-chan event.Event[payloadT]
}

// Unsubscribe ends the subscription.
func (sub *Newsletter[payload]) Unsubscribe() {
	sub.unregisterFn()
}

// mqttRouter is the part of paho.Router that dispatches received messages by
// topic.
type mqttRouter interface {
	RegisterHandler(topic string, handler paho.MessageHandler)
	UnregisterHandler(topic string)
}

// receiver is the channel of a single subscription.
type receiver struct {
	lifetime context.Context
	receive  chan event.Event[any]
}

// route holds the receivers of a Topic.
type route struct {
	// m locks receivers. It is held while delivering so that receive channels are
	// only closed without a delivery in flight.
	m         sync.RWMutex
	receivers map[*receiver]struct{}
}

// deliver passes the message to all receivers and returns when each one took
// it or its lifetime ended.
func (r *route) deliver(publish *paho.Publish) {
	r.m.RLock()
	defer r.m.RUnlock()
	var g errgroup.Group
	for rec := range r.receivers {
		rec := rec
		g.Go(func() error {
			select {
			case <-rec.lifetime.Done():
			case rec.receive <- event.Event[any]{Publish: publish}:
			}
			return nil
		})
	}
	_ = g.Wait()
}

// routeTable registers a handler at the MQTT router for each Topic with at
// least one receiver.
type routeTable struct {
	logger *zap.Logger
	mqtt   mqttRouter
	// m locks routes.
	m      sync.Mutex
	routes map[Topic]*route
}

func newRouteTable(logger *zap.Logger, mqtt mqttRouter) *routeTable {
	return &routeTable{
		logger: logger,
		mqtt:   mqtt,
		routes: make(map[Topic]*route),
	}
}

// open adds a receiver for the Topic until the lifetime is done. The returned
// channel is closed afterwards.
func (t *routeTable) open(lifetime context.Context, topic Topic) <-chan event.Event[any] {
	rec := &receiver{
		lifetime: lifetime,
		receive:  make(chan event.Event[any]),
	}
	t.m.Lock()
	r, ok := t.routes[topic]
	if !ok {
		r = &route{receivers: make(map[*receiver]struct{})}
		t.routes[topic] = r
		t.mqtt.RegisterHandler(string(topic), r.deliver)
		t.logger.Debug("opened route", zap.Any("topic", topic))
	}
	r.m.Lock()
	r.receivers[rec] = struct{}{}
	r.m.Unlock()
	t.m.Unlock()
	go func() {
		<-lifetime.Done()
		t.close(topic, r, rec)
		close(rec.receive)
	}()
	return rec.receive
}

// close removes the receiver from the route. The route is removed together
// with its last receiver.
func (t *routeTable) close(topic Topic, r *route, rec *receiver) {
	t.m.Lock()
	defer t.m.Unlock()
	r.m.Lock()
	delete(r.receivers, rec)
	remaining := len(r.receivers)
	r.m.Unlock()
	if remaining > 0 || t.routes[topic] != r {
		return
	}
	delete(t.routes, topic)
	t.mqtt.UnregisterHandler(string(topic))
	t.logger.Debug("closed route", zap.Any("topic", topic))
}

// publisher is used for publishing MQTT events.
type publisher interface {
	Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error)
}

// Base is a wrapper for all connection related stuff for a Portal. Using the
// Base, you only need to Open the Base and then use portals via NewPortal.
type Base interface {
	// Open the connection. Stays opened until the given context.Context is done.
	Open(ctx context.Context) error
	// NewPortal creates a new Portal that uses the connection from the Base.
	NewPortal(name string) Portal
}

type basePortal struct {
	logger *zap.Logger
	config Config
	// brokerURL is the URL of the MQTT broker.
	brokerURL *url.URL
	// routes delivers received messages to subscriptions.
	routes *routeTable
	// mqttRouter is the router used by the MQTT client.
	mqttRouter *paho.StandardRouter
	// publisherMutex locks publisher.
	publisherMutex sync.RWMutex
	// publisher is used for publishing MQTT messages. Set when the connection was
	// created in Open.
	publisher publisher
}

// Portal is used for subscribing and publishing to topics.
type Portal interface {
	// Subscribe returns a Newsletter for the given Topic.
	Subscribe(ctx context.Context, topic Topic) *Newsletter[any]
	// Publish the given payload to the Topic. It will catch any errors during
	// publishing and log them using the Logger.
	Publish(ctx context.Context, topic Topic, payload interface{})
	// Logger is needed in order to provide error logging for Subscribe as methods
	// cannot have type parameters.
	Logger() *zap.Logger
}

// NewBase creates a Base with the given Config. Open it with Base.Open.
// Portals can be created before opening.
func NewBase(logger *zap.Logger, config Config) (Base, error) {
	brokerURL, err := url.Parse(config.MQTTAddr)
	if err != nil {
		return nil, errors.NewInternalErrorFromErr(err, "invalid mqtt addr", errors.Details{"was": config.MQTTAddr})
	}
	if config.ClientID == "" {
		config.ClientID = defaultClientID
	}
	mqttRouter := paho.NewStandardRouter()
	return &basePortal{
		logger:     logger,
		config:     config,
		brokerURL:  brokerURL,
		routes:     newRouteTable(logger.Named("routes"), mqttRouter),
		mqttRouter: mqttRouter,
	}, nil
}

// Open the base portal and keep the connection to the MQTT server until the
// given context.Context is done.
func (p *basePortal) Open(ctx context.Context) error {
	conn, err := autopaho.NewConnection(ctx, p.genClientConfig(p.mqttRouter))
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "create mqtt server connection failed", nil)
	}
	p.publisherMutex.Lock()
	p.publisher = conn
	p.publisherMutex.Unlock()
	<-ctx.Done()
	p.publisherMutex.Lock()
	p.publisher = nil
	p.publisherMutex.Unlock()
	disconnectTimeout, cancelDisconnectTimeout := context.WithTimeout(context.Background(), 3*time.Second)
	err = conn.Disconnect(disconnectTimeout)
	cancelDisconnectTimeout()
	if err != nil {
		return errors.NewInternalErrorFromErr(err, "disconnect from mqtt server failed", nil)
	}
	return nil
}

// Publish publishes using the current connection.
func (p *basePortal) Publish(ctx context.Context, publish *paho.Publish) (*paho.PublishResponse, error) {
	p.publisherMutex.RLock()
	pub := p.publisher
	p.publisherMutex.RUnlock()
	if pub == nil {
		return nil, errors.Error{
			Code:    errors.ErrCommunication,
			Message: "not connected to mqtt server",
			Details: errors.Details{"topic": publish.Topic},
		}
	}
	return pub.Publish(ctx, publish)
}

// subscribeAll subscribes to everything below BaseTopic.
func (p *basePortal) subscribeAll(cm *autopaho.ConnectionManager) {
	topic := string(BaseTopic) + "/#"
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: map[string]paho.SubscribeOptions{
			topic: {QoS: mqttQOS},
		},
	})
	if err != nil {
		errors.Log(p.logger, errors.Error{
			Code:    errors.ErrCommunication,
			Err:     err,
			Message: "subscribe to base topic",
			Details: errors.Details{"topic": topic},
		})
		return
	}
	p.logger.Debug("subscribed to base topic", zap.String("topic", topic))
}

// genClientConfig generates the autopaho.ClientConfig that is ready to launch
// and will use the given paho.Router.
func (p *basePortal) genClientConfig(router paho.Router) autopaho.ClientConfig {
	return autopaho.ClientConfig{
		BrokerUrls: []*url.URL{p.brokerURL},
		KeepAlive:  mqttKeepAlive,
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt server connection established")
			go p.subscribeAll(cm)
		},
		OnConnectError: func(err error) {
			errors.Log(p.logger, errors.Error{
				Code:    errors.ErrCommunication,
				Err:     err,
				Message: "mqtt server connection failed",
			})
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.config.ClientID,
			Router:   router,
			OnServerDisconnect: func(disconnect *paho.Disconnect) {
				reason := fmt.Sprintf("%d", disconnect.ReasonCode)
				if disconnect.Properties != nil {
					reason = disconnect.Properties.ReasonString
				}
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Message: fmt.Sprintf("mqtt server requested disconnect: %s", reason),
				})
			},
			OnClientError: func(err error) {
				errors.Log(p.logger, errors.Error{
					Code:    errors.ErrCommunication,
					Err:     err,
					Message: "mqtt server connection client error",
				})
			},
		},
	}
}

// NewPortal creates a new Portal that can be used to subscribe to topics and
// events.
func (p *basePortal) NewPortal(name string) Portal {
	return &portal{
		logger:    p.logger.Named(name),
		routes:    p.routes,
		publisher: p,
	}
}

// Subscribe to the given Portal for the Topic. The returned Newsletter contains
// an already unmarshalled payload. Messages that fail to unmarshal, are
// dropped. However, the error is logged to Portal.Logger.
func Subscribe[payloadT any](ctx context.Context, portal Portal, topic Topic) *Newsletter[payloadT] {
	rawSub := portal.Subscribe(ctx, topic)
	receiveParsed := make(chan event.Event[payloadT])
	go func() {
		defer close(receiveParsed)
		for e := range rawSub.Receive {
			var payload payloadT
			err := json.Unmarshal(e.Publish.Payload, &payload)
			if err != nil {
				errors.Log(portal.Logger(), errors.NewJSONError(err, "parse payload failed", true))
				continue
			}
			select {
			case <-ctx.Done():
				return
			case receiveParsed <- event.Event[payloadT]{
				Publish: e.Publish,
				Payload: payload,
			}:
			}
		}
	}()
	return &Newsletter[payloadT]{
		unregisterFn: rawSub.unregisterFn,
		Receive:      receiveParsed,
	}
}

// portal provides a higher-level API for Base that makes it easier to conduct
// tests, etc.
type portal struct {
	logger *zap.Logger
	// routes is used for subscribing to MQTT topics via Subscribe.
	routes *routeTable
	// publisher is used for publishing MQTT messages via Publish.
	publisher publisher
}

// Subscribe for the given Topic using the portal's routes.
func (p *portal) Subscribe(ctx context.Context, topic Topic) *Newsletter[any] {
	subLifetime, cancelSub := context.WithCancel(ctx)
	return &Newsletter[any]{
		unregisterFn: cancelSub,
		Receive:      p.routes.open(subLifetime, topic),
	}
}

// Publish the given payload to the Topic.
func (p *portal) Publish(ctx context.Context, topic Topic, payload interface{}) {
	payloadRaw, err := json.Marshal(payload)
	if err != nil {
		errors.Log(p.logger, errors.NewJSONError(err, "marshal payload for publishing", false))
		return
	}
	_, err = p.publisher.Publish(ctx, &paho.Publish{
		QoS:     mqttQOS,
		Topic:   string(topic),
		Payload: payloadRaw,
	})
	if err != nil {
		errors.Log(p.logger, errors.Wrap(err, "publish message failed", errors.Details{"topic": topic}))
		return
	}
}

// Logger returns the portal's logger.
func (p *portal) Logger() *zap.Logger {
	return p.logger
}
