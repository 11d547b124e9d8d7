package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

const (
	defaultWorkers           = 5
	defaultReconnectInterval = 5 * time.Second
	defaultBrokerPort        = 1883

	// At-least-once. The broker acknowledges every publish; duplicates are
	// possible after a retry, silent drops are not.
	publishQoS = 1
)

// BrokerClient is one connection to an MQTT broker. The indirection exists
// so the worker state machine can be exercised against a fake broker.
type BrokerClient interface {
	Connect(ctx context.Context, host string) error
	Publish(ctx context.Context, topic string, payload []byte) error
	Disconnect()
}

// BrokerSink publishes every DataEvent of each queued Sample to an MQTT
// broker, one message per event. Workers tolerate broker outages without
// losing items already taken off the queue: the in-flight item is held and
// retried against the next connection.
type BrokerSink struct {
	cfg       Config
	log       logger.Logger
	newClient func() BrokerClient

	queue  *Queue
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewBrokerSink(cfg Config, log logger.Logger) (*BrokerSink, error) {
	return newBrokerSink(cfg, log, func() BrokerClient {
		return &pahoClient{username: cfg.Username, password: cfg.Password}
	})
}

// NewBrokerSinkWithClient injects a custom client constructor. Used in tests.
func NewBrokerSinkWithClient(cfg Config, log logger.Logger, newClient func() BrokerClient) (*BrokerSink, error) {
	return newBrokerSink(cfg, log, newClient)
}

func newBrokerSink(cfg Config, log logger.Logger, newClient func() BrokerClient) (*BrokerSink, error) {
	if len(cfg.Hosts) == 0 {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "mqtt sink requires at least one host")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = defaultReconnectInterval
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	return &BrokerSink{
		cfg:       cfg,
		log:       log.With("mqtt"),
		newClient: newClient,
	}, nil
}

func (s *BrokerSink) Driver() string {
	return "mqtt"
}

func (s *BrokerSink) Connect(_ context.Context) (*Queue, error) {
	s.log.Info().Msg("Initializing MQTT writer")

	s.queue = NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for i := 0; i < s.cfg.Workers; i++ {
		w := &brokerWorker{
			sink: s,
			log:  s.log.With(fmt.Sprintf("worker-%d", i)),
			// Offset the first attempt so a fresh worker connects at once.
			lastAttempt: time.Now().Add(-s.cfg.ReconnectInterval),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.run(ctx)
		}()
	}

	return s.queue, nil
}

func (s *BrokerSink) Shutdown(_ context.Context) error {
	if s.queue == nil {
		return nil
	}

	if !s.queue.Join(s.cfg.DrainTimeout) {
		s.log.ErrorWithCode(errors.New().New(ErrDrainTimeout)).
			Int("backlog", s.queue.Len()).
			Msg("Timeout while flushing the MQTT writer")
	}

	// Items in flight at this point may be lost. Best-effort shutdown.
	s.cancel()
	s.wg.Wait()
	s.log.Info().Strs("hosts", s.cfg.Hosts).Msg("MQTT endpoint closed")

	return nil
}

// brokerWorker cycles through the host list, holding at most one item in
// flight. The item survives reconnects and is only released once every one of
// its events has been acknowledged by the broker.
type brokerWorker struct {
	sink *BrokerSink
	log  logger.Logger

	inflight    *event.Sample
	lastCode    errors.ErrorCode
	lastAttempt time.Time
}

func (w *brokerWorker) run(ctx context.Context) {
	hosts := w.sink.cfg.Hosts

	for hostIndex := 0; ; hostIndex = (hostIndex + 1) % len(hosts) {
		host := hosts[hostIndex]

		// Enforce a minimum spacing between connection attempts, so repeated
		// failures never turn into a connect storm.
		if wait := w.sink.cfg.ReconnectInterval - time.Since(w.lastAttempt); wait > 0 {
			w.log.Info().Dur("delay", wait).Msg("Delaying reconnect")
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		w.lastAttempt = time.Now()

		w.log.Info().Str("host", host).Msg("Connecting worker to MQTT broker")
		client := w.sink.newClient()
		if err := client.Connect(ctx, host); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logTransportError(err, host)

			continue
		}

		// A fresh connection resets the error state, so the next failure of
		// a different kind is logged again.
		w.lastCode = ""

		err := w.publishLoop(ctx, client)
		client.Disconnect()
		if err == nil {
			return
		}
		w.logTransportError(err, host)
	}
}

// publishLoop feeds queue items to the broker until a transport error or
// cancellation. A nil return means the worker should stop.
func (w *brokerWorker) publishLoop(ctx context.Context, client BrokerClient) error {
	for {
		if w.inflight == nil {
			// Only fetch new data once everything has been pushed to the broker.
			item, err := w.sink.queue.Get(ctx)
			if err != nil {
				return nil
			}
			w.inflight = &item
		}

		messages, err := convertSample(*w.inflight)
		if err != nil {
			// Structurally invalid items are dropped; a retry cannot succeed.
			w.log.ErrorWithCode(errors.New().Wrap(ErrPayloadInvalid, err)).
				Msg("Error while serializing data event. Dropping item.")
			w.inflight = nil
			w.sink.queue.Done()

			continue
		}

		for _, msg := range messages {
			if err := client.Publish(ctx, msg.topic, msg.payload); err != nil {
				if ctx.Err() != nil {
					return nil
				}

				return err
			}
		}

		w.inflight = nil
		w.sink.queue.Done()
		w.lastCode = ""
	}
}

// logTransportError logs once per distinct error code, so a persistent
// failure does not flood the log while the worker keeps retrying.
func (w *brokerWorker) logTransportError(err error, host string) {
	code := transportCode(err)
	if code == w.lastCode {
		return
	}
	w.lastCode = code

	w.log.ErrorWithCode(errors.New().Wrap(code, err)).
		Str("host", host).
		Msg("MQTT error. Retrying.")
}

// transportCode distinguishes the common failure kinds, mirroring the errno
// handling of the broker protocol: refused, name resolution, everything else.
func transportCode(err error) errors.ErrorCode {
	if code := errors.CodeOf(err); code != errors.ErrInternal {
		return code
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrNameResolutionFailed
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnectionRefused
	}

	return ErrBrokerUnreachable
}

type brokerMessage struct {
	topic   string
	payload []byte
}

// brokerPayload is the JSON body published for one DataEvent.
type brokerPayload struct {
	Timestamp float64     `json:"timestamp"`
	UUID      string      `json:"uuid"`
	SID       int         `json:"sid"`
	Value     event.Value `json:"value"`
	Unit      string      `json:"unit"`
}

func convertSample(item event.Sample) ([]brokerMessage, error) {
	messages := make([]brokerMessage, 0, len(item.Events))
	for _, ev := range item.Events {
		if ev.Topic == "" {
			return nil, fmt.Errorf("event %d of %s has no topic", ev.SID, ev.Sender)
		}

		payload, err := json.Marshal(brokerPayload{
			Timestamp: float64(item.Timestamp.UnixNano()) / float64(time.Second),
			UUID:      ev.Sender.String(),
			SID:       ev.SID,
			Value:     ev.Value,
			Unit:      ev.Unit,
		})
		if err != nil {
			return nil, err
		}

		messages = append(messages, brokerMessage{topic: ev.Topic, payload: payload})
	}

	return messages, nil
}

// pahoClient adapts the Eclipse Paho client to the BrokerClient interface.
// Automatic reconnection is disabled: the worker state machine owns the
// reconnect policy, including the host rotation and the attempt spacing.
type pahoClient struct {
	username string
	password string
	client   mqtt.Client
}

func (c *pahoClient) Connect(ctx context.Context, host string) error {
	opts := mqtt.NewClientOptions().
		AddBroker("tcp://" + host).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if c.username != "" {
		opts.SetUsername(c.username)
		opts.SetPassword(c.password)
	}

	c.client = mqtt.NewClient(opts)

	return waitToken(ctx, c.client.Connect())
}

func (c *pahoClient) Publish(ctx context.Context, topic string, payload []byte) error {
	return waitToken(ctx, c.client.Publish(topic, publishQoS, false, payload))
}

func (c *pahoClient) Disconnect() {
	if c.client != nil {
		c.client.Disconnect(250)
	}
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-token.Done():
		return token.Error()
	}
}
