package mqttlink

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"uas-mission/internal/events"
	"uas-mission/internal/props"
)

const (
	eventsTopic = "events"
	statusTopic = "status"
	setTopic    = "set"

	connectTimeout = 10 * time.Second
	quiesceMs      = 250
)

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
}

// client is the part of mqtt.Client the link uses.
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// Link publishes mission events and task status to a broker and applies
// property writes received on <prefix>/set/<path>.
type Link struct {
	c      client
	prefix string
	now    func() time.Time
}

func Dial(cfg Config) (*Link, error) {
	if strings.TrimSpace(cfg.Broker) == "" {
		return nil, errors.New("mqtt broker is required")
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Broker, token.Error())
	}
	log.Printf("mqtt connected broker=%s client_id=%s", cfg.Broker, cfg.ClientID)
	return newLink(c, cfg.TopicPrefix), nil
}

func newLink(c client, prefix string) *Link {
	return &Link{c: c, prefix: strings.Trim(prefix, "/"), now: time.Now}
}

func (l *Link) topic(parts ...string) string {
	if l.prefix == "" {
		return strings.Join(parts, "/")
	}
	return l.prefix + "/" + strings.Join(parts, "/")
}

// Log implements events.Logger. Publishing does not wait for the broker.
func (l *Link) Log(category, message string) {
	b, err := json.Marshal(events.Event{At: l.now().UTC(), Category: category, Message: message})
	if err != nil {
		log.Printf("mqtt event marshal error: %v", err)
		return
	}
	l.c.Publish(l.topic(eventsTopic), 0, false, b)
}

// PublishStatus sends v as retained JSON on <prefix>/status/<name>.
func (l *Link) PublishStatus(name string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	l.c.Publish(l.topic(statusTopic, name), 0, true, b)
	return nil
}

// BindInputs subscribes to <prefix>/set/# and writes each payload to the
// property named by the rest of the topic. Payloads are JSON numbers,
// strings or booleans.
func (l *Link) BindInputs(store props.Store) error {
	filter := l.topic(setTopic, "#")
	base := l.topic(setTopic) + "/"
	token := l.c.Subscribe(filter, 0, func(_ mqtt.Client, msg mqtt.Message) {
		path := strings.TrimPrefix(msg.Topic(), base)
		if err := apply(store, path, msg.Payload()); err != nil {
			log.Printf("mqtt input topic=%s error: %v", msg.Topic(), err)
		}
	})
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("subscribe %s: %w", filter, token.Error())
	}
	log.Printf("mqtt subscribed topic=%s", filter)
	return nil
}

func apply(store props.Store, path string, payload []byte) error {
	nodePath, name := props.Split(path)
	if name == "" {
		return fmt.Errorf("no property name in %q", path)
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return fmt.Errorf("payload: %w", err)
	}
	n := store.Node(nodePath)
	switch x := v.(type) {
	case float64:
		n.SetFloat(name, x)
	case string:
		n.SetString(name, x)
	case bool:
		n.SetBool(name, x)
	default:
		return fmt.Errorf("unsupported payload type %T", v)
	}
	return nil
}

func (l *Link) Close() {
	l.c.Disconnect(quiesceMs)
}
