package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/go-logr/logr"

	"lifxsync/internal/registry"
)

const (
	DefaultTopicPrefix = "lifxsync"

	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
	qosAtLeastOnce = 1
)

var ErrConnectionFailed = errors.New("mqtt connection failed")

// Publisher is the part of a paho client the notifier uses.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
}

type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
}

// MQTTNotifier publishes registry changes to a broker:
//
//	<prefix>/active             retained "true" or "false"
//	<prefix>/events             every change as JSON
//	<prefix>/devices/<address>  retained change for that bulb, cleared on loss
type MQTTNotifier struct {
	log    logr.Logger
	pub    Publisher
	prefix string
	client pahomqtt.Client
}

func NewMQTTNotifier(log logr.Logger, pub Publisher, prefix string) *MQTTNotifier {
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &MQTTNotifier{log: log.WithName("mqtt"), pub: pub, prefix: prefix}
}

// DialMQTT connects to the broker and returns a notifier publishing through
// that connection. The broker is told to mark the subsystem inactive if the
// connection drops.
func DialMQTT(log logr.Logger, o MQTTOptions) (*MQTTNotifier, error) {
	if o.TopicPrefix == "" {
		o.TopicPrefix = DefaultTopicPrefix
	}
	if o.ClientID == "" {
		o.ClientID = "lifxsync"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetUsername(o.Username)
	opts.SetPassword(o.Password)
	opts.SetAutoReconnect(true)
	opts.SetWill(o.TopicPrefix+"/active", "false", qosAtLeastOnce, true)

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	n := NewMQTTNotifier(log, client, o.TopicPrefix)
	n.client = client
	n.log.Info("MQTT client connected", "broker", o.Broker, "client_id", o.ClientID)
	return n, nil
}

func (n *MQTTNotifier) RegistryChanged(_ context.Context, c registry.Change) {
	payload, err := json.Marshal(c)
	if err != nil {
		n.log.Error(err, "Failed to encode change", "address", c.Address)
		return
	}
	n.publish(n.prefix+"/events", false, payload)

	// An empty retained message removes the retained state for a lost bulb.
	device := payload
	if c.Kind == registry.ChangeLost {
		device = []byte{}
	}
	n.publish(n.prefix+"/devices/"+c.Address, true, device)
}

func (n *MQTTNotifier) ActiveChanged(_ context.Context, active bool) {
	n.publish(n.prefix+"/active", true, []byte(strconv.FormatBool(active)))
}

func (n *MQTTNotifier) publish(topic string, retained bool, payload []byte) {
	token := n.pub.Publish(topic, qosAtLeastOnce, retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		n.log.Error(errors.New("publish timeout"), "Failed to publish", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		n.log.Error(err, "Failed to publish", "topic", topic)
	}
}

// Close marks the subsystem inactive and disconnects when the notifier owns
// its connection.
func (n *MQTTNotifier) Close() error {
	if n.client == nil {
		return nil
	}
	if n.client.IsConnected() {
		n.publish(n.prefix+"/active", true, []byte("false"))
		n.client.Disconnect(250)
	}
	return nil
}
