package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bluecat/internal/queue"
)

type message struct {
	topic   string
	qos     byte
	payload []byte
}

// fakeClient records publishes instead of talking to a broker
type fakeClient struct {
	mu        sync.Mutex
	connected bool
	messages  []message
}

func (f *fakeClient) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeClient) IsConnectionOpen() bool { return f.IsConnected() }

func (f *fakeClient) Connect() mqtt.Token {
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return &mqtt.DummyToken{}
}

func (f *fakeClient) Disconnect(uint) {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
}

func (f *fakeClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &mqtt.DummyToken{}
}

func (f *fakeClient) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	return &mqtt.DummyToken{}
}

func (f *fakeClient) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	return &mqtt.DummyToken{}
}

func (f *fakeClient) Unsubscribe(...string) mqtt.Token { return &mqtt.DummyToken{} }

func (f *fakeClient) AddRoute(string, mqtt.MessageHandler) {}

func (f *fakeClient) OptionsReader() mqtt.ClientOptionsReader { return mqtt.ClientOptionsReader{} }

func (f *fakeClient) sent() []message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]message(nil), f.messages...)
}

func TestJobEvents(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "bluecat")
	require.NoError(t, p.Start())

	q := queue.New(p)
	job := queue.NewFeed()
	require.NoError(t, q.Push(job))

	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "bluecat/jobs", msgs[0].topic)
	assert.Zero(t, msgs[0].qos)

	var ev queue.Event
	require.NoError(t, json.Unmarshal(msgs[0].payload, &ev))
	assert.Equal(t, job.ID.String(), ev.ID)
	assert.Equal(t, "feed", ev.Kind)
	assert.Equal(t, queue.StateQueued, ev.State)
}

func TestNotificationAsHex(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "office/cat")
	require.NoError(t, p.Start())

	p.Notification([]byte{0x51, 0x78, 0xA3, 0x01})

	msgs := client.sent()
	require.Len(t, msgs, 1)
	assert.Equal(t, "office/cat/notify", msgs[0].topic)
	assert.Equal(t, "5178a301", string(msgs[0].payload))
}

func TestDisconnectedDropsMessages(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "bluecat")

	p.JobEvent(queue.Event{ID: "x", State: queue.StateStarted})
	p.Notification([]byte{1})
	assert.Empty(t, client.sent())

	require.NoError(t, p.Start())
	p.Stop()
	p.Notification([]byte{1})
	assert.Empty(t, client.sent())
}

func TestStartTimesOutQuietly(t *testing.T) {
	client := &slowClient{fakeClient: &fakeClient{}}
	p := NewWithClient(client, "bluecat")
	assert.NoError(t, p.Start())
}

// slowClient never completes its connect token within the test
type slowClient struct {
	*fakeClient
}

func (s *slowClient) Connect() mqtt.Token {
	return &pendingToken{}
}

type pendingToken struct{ mqtt.DummyToken }

func (*pendingToken) WaitTimeout(time.Duration) bool { return false }
