package notify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifxsync/internal/registry"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

type published struct {
	topic    string
	retained bool
	payload  string
}

type fakePublisher struct {
	msgs []published
	err  error
}

func (p *fakePublisher) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	p.msgs = append(p.msgs, published{topic: topic, retained: retained, payload: string(payload.([]byte))})
	return doneToken{err: p.err}
}

func TestMQTTNotifierTopics(t *testing.T) {
	pub := &fakePublisher{}
	n := NewMQTTNotifier(logr.Discard(), pub, "")
	ctx := context.Background()

	n.ActiveChanged(ctx, true)
	n.RegistryChanged(ctx, registry.Change{Kind: registry.ChangeDiscovered, Address: "A1:B2", Active: 1})
	n.RegistryChanged(ctx, registry.Change{Kind: registry.ChangeLost, Address: "A1:B2", Active: 0})

	require.Len(t, pub.msgs, 5)
	assert.Equal(t, published{"lifxsync/active", true, "true"}, pub.msgs[0])
	assert.Equal(t, "lifxsync/events", pub.msgs[1].topic)
	assert.False(t, pub.msgs[1].retained)
	assert.JSONEq(t, `{"kind":"discovered","address":"A1:B2","active":1}`, pub.msgs[1].payload)
	assert.Equal(t, "lifxsync/devices/A1:B2", pub.msgs[2].topic)
	assert.True(t, pub.msgs[2].retained)
	assert.Equal(t, published{"lifxsync/devices/A1:B2", true, ""}, pub.msgs[4], "retained state is cleared on loss")
}

func TestMQTTNotifierSurvivesPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	n := NewMQTTNotifier(logr.Discard(), pub, "home/lights")

	n.ActiveChanged(context.Background(), false)
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "home/lights/active", pub.msgs[0].topic)
	assert.NoError(t, n.Close())
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestDialMQTTAgainstBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("starts an MQTT broker")
	}
	addr := fmt.Sprintf("127.0.0.1:%d", freePort(t))

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, server.AddListener(listeners.NewTCP(listeners.Config{ID: "test", Address: addr})))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })

	var (
		mu  sync.Mutex
		got = map[string]string{}
	)
	require.NoError(t, server.Subscribe("lifxsync/#", 1, func(_ *mochi.Client, _ packets.Subscription, pk packets.Packet) {
		mu.Lock()
		defer mu.Unlock()
		got[pk.TopicName] = string(pk.Payload)
	}))

	n, err := DialMQTT(logr.Discard(), MQTTOptions{Broker: "tcp://" + addr, ClientID: "lifxsync-test"})
	require.NoError(t, err)

	n.ActiveChanged(context.Background(), true)
	n.RegistryChanged(context.Background(), registry.Change{Kind: registry.ChangeDiscovered, Address: "A1:B2", Active: 1})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["lifxsync/active"] == "true" && got["lifxsync/devices/A1:B2"] != ""
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, n.Close())
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got["lifxsync/active"] == "false"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestDialMQTTUnreachableBroker(t *testing.T) {
	if testing.Short() {
		t.Skip("dials the network")
	}
	_, err := DialMQTT(logr.Discard(), MQTTOptions{Broker: fmt.Sprintf("tcp://127.0.0.1:%d", freePort(t))})
	assert.ErrorIs(t, err, ErrConnectionFailed)
}
