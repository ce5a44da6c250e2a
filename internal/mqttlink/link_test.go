package mqttlink

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"uas-mission/internal/events"
	"uas-mission/internal/props"
)

type fakeToken struct{ err error }

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakeClient struct {
	pubs         []published
	subs         map[string]mqtt.MessageHandler
	subErr       error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.pubs = append(c.pubs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return &fakeToken{}
}

func (c *fakeClient) Subscribe(topic string, qos byte, cb mqtt.MessageHandler) mqtt.Token {
	if c.subs == nil {
		c.subs = map[string]mqtt.MessageHandler{}
	}
	c.subs[topic] = cb
	return &fakeToken{err: c.subErr}
}

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestLink_LogPublishesEvent(t *testing.T) {
	fc := &fakeClient{}
	l := newLink(fc, "/uas/")
	l.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	var _ events.Logger = l
	l.Log("land", "glide slope capture")

	if len(fc.pubs) != 1 {
		t.Fatalf("pubs=%d want 1", len(fc.pubs))
	}
	p := fc.pubs[0]
	if p.topic != "uas/events" || p.retained {
		t.Fatalf("topic=%q retained=%v", p.topic, p.retained)
	}
	var ev events.Event
	if err := json.Unmarshal(p.payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.Category != "land" || ev.Message != "glide slope capture" || ev.At.Year() != 2024 {
		t.Fatalf("event=%+v", ev)
	}
}

func TestLink_PublishStatus(t *testing.T) {
	fc := &fakeClient{}
	l := newLink(fc, "")
	if err := l.PublishStatus("land", map[string]float64{"dist_remaining_m": 12.5}); err != nil {
		t.Fatalf("PublishStatus() error: %v", err)
	}
	if len(fc.pubs) != 1 || fc.pubs[0].topic != "status/land" || !fc.pubs[0].retained {
		t.Fatalf("pubs=%+v", fc.pubs)
	}
	if err := l.PublishStatus("bad", func() {}); err == nil {
		t.Fatalf("expected marshal error")
	}
}

func TestLink_BindInputsWritesStore(t *testing.T) {
	fc := &fakeClient{}
	tree := props.NewTree()
	l := newLink(fc, "uas")
	if err := l.BindInputs(tree); err != nil {
		t.Fatalf("BindInputs() error: %v", err)
	}
	cb := fc.subs["uas/set/#"]
	if cb == nil {
		t.Fatalf("no subscription: %v", fc.subs)
	}

	cb(nil, fakeMessage{topic: "uas/set/sensors/imu/ax_nocal", payload: []byte("9.81")})
	cb(nil, fakeMessage{topic: "uas/set/navigation/mode", payload: []byte(`"route"`)})
	cb(nil, fakeMessage{topic: "uas/set/task/is_airborne", payload: []byte("true")})
	cb(nil, fakeMessage{topic: "uas/set/velocity/groundspeed_ms", payload: []byte("not json")})

	if got := tree.Node("/sensors/imu").GetFloat("ax_nocal"); got != 9.81 {
		t.Fatalf("ax_nocal=%v want 9.81", got)
	}
	if got := tree.Node("/navigation").GetString("mode"); got != "route" {
		t.Fatalf("mode=%q want route", got)
	}
	if !tree.Node("/task").GetBool("is_airborne") {
		t.Fatalf("is_airborne not set")
	}
	if tree.Node("/velocity").HasChild("groundspeed_ms") {
		t.Fatalf("invalid payload was applied")
	}
}

func TestLink_BindInputsSubscribeError(t *testing.T) {
	subErr := errors.New("not authorized")
	l := newLink(&fakeClient{subErr: subErr}, "uas")
	if err := l.BindInputs(props.NewTree()); !errors.Is(err, subErr) {
		t.Fatalf("err=%v want %v", err, subErr)
	}
}

func TestApply_RejectsUnsupported(t *testing.T) {
	tree := props.NewTree()
	if err := apply(tree, "/a/b", []byte(`[1,2]`)); err == nil {
		t.Fatalf("expected error for array payload")
	}
	if err := apply(tree, "/", []byte(`1`)); err == nil {
		t.Fatalf("expected error for empty name")
	}
}

func TestDial_RequiresBroker(t *testing.T) {
	if _, err := Dial(Config{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLink_Close(t *testing.T) {
	fc := &fakeClient{}
	newLink(fc, "x").Close()
	if !fc.disconnected {
		t.Fatalf("expected disconnect")
	}
}
