package notify

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTSink publishes each message on "<prefix>/<executorID>" so field devices
// can subscribe to their own topic.
type MQTTSink struct {
	client mqtt.Client
	prefix string
	qos    byte
}

func NewMQTTSink(client mqtt.Client, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = "shift/notify"
	}
	return &MQTTSink{client: client, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Topic(executorID string) string {
	return s.prefix + "/" + executorID
}

func (s *MQTTSink) Notify(ctx context.Context, executorID, title, body string) error {
	data, err := Message{ExecutorID: executorID, Title: title, Body: body, SentAt: time.Now().UTC()}.encode()
	if err != nil {
		return err
	}
	topic := s.Topic(executorID)
	token := s.client.Publish(topic, s.qos, false, data)
	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// ConnectMQTT connects to broker with auto-reconnect enabled.
func ConnectMQTT(broker, clientID, username, password string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	if username != "" {
		opts.SetUsername(username)
	}
	if password != "" {
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}
