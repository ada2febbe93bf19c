package mqtt

import (
	"encoding/json"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"crm-callengine/pkg/types"
)

type fakeToken struct{}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *fakeToken) Error() error { return nil }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho captures published messages instead of talking to a broker.
type fakePaho struct {
	paho.Client
	messages []published
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token {
	f.messages = append(f.messages, published{
		topic:    topic,
		qos:      qos,
		retained: retained,
		payload:  payload.([]byte),
	})
	return &fakeToken{}
}

func newFakeClient() (*Client, *fakePaho) {
	fake := &fakePaho{}
	return &Client{client: fake, topicPrefix: "callengine", qos: 1}, fake
}

func TestPublishCallEventTopic(t *testing.T) {
	client, fake := newFakeClient()

	event := types.CallEvent{
		Type:   types.EventCallConnected,
		ID:     "call-1",
		Number: "+18176630380",
	}
	if err := client.PublishCallEvent(event); err != nil {
		t.Fatalf("PublishCallEvent failed: %v", err)
	}

	if len(fake.messages) != 1 {
		t.Fatalf("Expected one message, got %d", len(fake.messages))
	}
	msg := fake.messages[0]
	if msg.topic != "callengine/events/call-connected" {
		t.Errorf("Unexpected topic: %s", msg.topic)
	}
	if msg.retained {
		t.Error("Call events must not be retained")
	}

	var decoded types.CallEvent
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("Payload not valid JSON: %v", err)
	}
	if decoded.ID != "call-1" || decoded.Number != "+18176630380" {
		t.Errorf("Unexpected payload: %+v", decoded)
	}
}

func TestPublishEngineStatusIsRetained(t *testing.T) {
	client, fake := newFakeClient()

	status := types.NewEngineStatusMessage(types.CallStateConnected, types.CallDirectionOutbound, "call-1", types.CallContext{Number: "+18176630380"})
	if err := client.PublishEngineStatus(status); err != nil {
		t.Fatalf("PublishEngineStatus failed: %v", err)
	}

	msg := fake.messages[0]
	if msg.topic != "callengine/status" {
		t.Errorf("Unexpected topic: %s", msg.topic)
	}
	if !msg.retained {
		t.Error("Engine status must be retained")
	}
	if msg.qos != 1 {
		t.Errorf("Expected configured QoS, got %d", msg.qos)
	}
}

func TestPublishHistoryIsRetained(t *testing.T) {
	client, fake := newFakeClient()

	history := types.CallHistory{MaxSize: 50}
	history.AddCall(types.CallRecord{ID: "call-1", Outcome: types.OutcomeCompleted})

	if err := client.PublishHistory(history); err != nil {
		t.Fatalf("PublishHistory failed: %v", err)
	}

	msg := fake.messages[0]
	if msg.topic != "callengine/history" {
		t.Errorf("Unexpected topic: %s", msg.topic)
	}
	if !msg.retained {
		t.Error("History must be retained")
	}

	var decoded types.CallHistory
	if err := json.Unmarshal(msg.payload, &decoded); err != nil {
		t.Fatalf("Payload not valid JSON: %v", err)
	}
	if len(decoded.Calls) != 1 || decoded.Calls[0].ID != "call-1" {
		t.Errorf("Unexpected payload: %+v", decoded)
	}
}
