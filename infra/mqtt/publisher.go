package mqtt

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/stationctl/core/events"
	coremon "github.com/kilianp07/stationctl/core/monitoring"
	"github.com/kilianp07/stationctl/infra/logger"
)

type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Publisher forwards station events to an MQTT broker. Publish never blocks:
// events are queued and sent by a background worker with retries.
type Publisher struct {
	cfg     Config
	cli     pahoClient
	log     logger.Logger
	queue   chan events.Envelope
	done    chan struct{}
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Int64
}

// NewPublisher connects to the broker and starts the send worker.
func NewPublisher(cfg Config) (*Publisher, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_publisher")
	p := &Publisher{
		cfg:   cfg,
		log:   log,
		queue: make(chan events.Envelope, cfg.QueueSize),
		done:  make(chan struct{}),
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected to %s", cfg.Broker)
		c.Publish(cfg.LWTTopic, cfg.LWTQoS, true, "online")
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	p.cli = c
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// Publish queues the event. When the queue is full or the publisher is
// closed the event is dropped.
func (p *Publisher) Publish(eventType string, payload any) {
	select {
	case <-p.done:
		return
	default:
	}
	env := events.Envelope{Type: eventType, Time: time.Now().UTC(), Payload: payload}
	select {
	case p.queue <- env:
	default:
		n := p.dropped.Add(1)
		p.log.Warnf("mqtt queue full, dropped %s event (%d dropped)", eventType, n)
	}
}

// Dropped reports how many events were discarded on a full queue.
func (p *Publisher) Dropped() int64 { return p.dropped.Load() }

func (p *Publisher) run() {
	defer p.wg.Done()
	defer coremon.Recover()
	for {
		select {
		case env := <-p.queue:
			_ = p.send(env)
		case <-p.done:
			for {
				select {
				case env := <-p.queue:
					_ = p.send(env)
				default:
					return
				}
			}
		}
	}
}

func (p *Publisher) topic(eventType string) string {
	return p.cfg.TopicPrefix + "/" + eventType
}

func (p *Publisher) send(env events.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		p.log.Errorf("encode %s event: %v", env.Type, err)
		return err
	}
	topic := p.topic(env.Type)
	qos := p.cfg.qosFor(env.Type)
	retain := p.cfg.retained(env.Type)
	backoff := time.Duration(p.cfg.BackoffMS) * time.Millisecond
	var publishErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		token := p.cli.Publish(topic, qos, retain, payload)
		token.Wait()
		publishErr = token.Error()
		if publishErr == nil {
			p.log.Debugf("published %s to %s", env.Type, topic)
			return nil
		}
		p.log.Errorf("publish attempt %d failed: %v", attempt+1, publishErr)
		if attempt < p.cfg.MaxRetries {
			time.Sleep(backoff * time.Duration(1<<attempt))
		}
	}
	coremon.CaptureException(publishErr, map[string]string{"module": "mqtt", "event_type": env.Type})
	return publishErr
}

// Close drains the queue and disconnects.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		close(p.done)
		p.wg.Wait()
		if p.cli != nil && p.cli.IsConnected() {
			p.cli.Publish(p.cfg.LWTTopic, p.cfg.LWTQoS, true, p.cfg.LWTPayload).Wait()
			p.cli.Disconnect(250)
		}
	})
	return nil
}

var _ events.Sink = (*Publisher)(nil)
