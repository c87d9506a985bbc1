package mqtt

import (
	"encoding/json"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/openride/surgecast/core/model"
	"github.com/openride/surgecast/infra/logger"
)

// EventSink receives decoded signal events. Delivery is at-least-once, so
// the sink must be idempotent on event id.
type EventSink interface {
	Ingest(ev model.SignalEvent)
}

// pahoClient is the subset of the Paho client the consumer uses, kept as an
// interface so tests can inject a fake.
type pahoClient interface {
	IsConnected() bool
	Connect() paho.Token
	Disconnect(quiesce uint)
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

var newMQTTClient = func(opts *paho.ClientOptions) pahoClient {
	return paho.NewClient(opts)
}

// Consumer subscribes to the signal topic and feeds decoded events to the
// ingestor. Malformed payloads are logged and skipped; the feed keeps
// flowing.
type Consumer struct {
	cfg  Config
	cli  pahoClient
	sink EventSink
	log  logger.Logger
}

// NewConsumer connects to the broker and subscribes to the signal topic.
func NewConsumer(cfg Config, sink EventSink) (*Consumer, error) {
	cfg.SetDefaults()
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	id := cfg.ClientID
	if id == "" {
		id = "surgecast-ingest-" + uuid.NewString()
	}
	opts.SetClientID(id)

	log := logger.New("mqtt_consumer")
	c := &Consumer{cfg: cfg, sink: sink, log: log}

	opts.OnConnect = func(cli paho.Client) {
		log.Infof("MQTT connected")
		qos := byte(1)
		if q, ok := cfg.QoS["signals"]; ok {
			qos = q
		}
		if token := cli.Subscribe(cfg.SignalTopic, qos, c.onSignal); token.Wait() && token.Error() != nil {
			log.Errorf("subscribe error: %v", token.Error())
		}
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}

	cli := newMQTTClient(opts)
	if token := cli.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	c.cli = cli
	return c, nil
}

func (c *Consumer) onSignal(_ paho.Client, msg paho.Message) {
	ev, err := decodeSignal(msg.Payload())
	if err != nil {
		c.log.Errorf("decode signal: %v", err)
		return
	}
	c.sink.Ingest(ev)
}

// decodeSignal parses a wire payload into a SignalEvent, filling defaults
// for optional fields.
func decodeSignal(payload []byte) (model.SignalEvent, error) {
	var ev model.SignalEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return model.SignalEvent{}, err
	}
	kind, ok := model.ParseEventKind(ev.KindName)
	if !ok {
		return model.SignalEvent{}, &UnknownKindError{Kind: ev.KindName}
	}
	ev.Kind = kind
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	return ev, nil
}

// UnknownKindError reports an unrecognized event kind on the wire.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "unknown signal kind " + e.Kind
}

// Disconnect gracefully closes the MQTT connection.
func (c *Consumer) Disconnect() {
	if c.cli != nil && c.cli.IsConnected() {
		c.cli.Disconnect(250)
	}
}
