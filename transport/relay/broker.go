// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relay

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// qos is used for the subscription and every publish.
const qos = 1

// keepAlive is the MQTT keep-alive interval.
const keepAlive = 30 * time.Second

// disconnectQuiesce is how long Disconnect lets in-flight work finish,
// in milliseconds.
const disconnectQuiesce = 250

// Broker is one client connection to an MQTT broker.
type Broker interface {
	// Connect opens the session. It returns when the broker accepts
	// the connection or ctx ends.
	Connect(ctx context.Context) error

	// Subscribe registers deliver for topic and waits for the broker's
	// acknowledgement. deliver runs on the client's goroutine, one
	// message at a time.
	Subscribe(ctx context.Context, topic string, deliver func(payload []byte)) error

	// Publish queues payload and returns a channel that receives the
	// outcome once the broker acknowledges or the publish fails.
	Publish(topic string, payload []byte) <-chan error

	// Disconnect closes the session.
	Disconnect()
}

// DialFunc creates an unconnected Broker for url. onLost is called if
// an established connection drops.
type DialFunc func(url, clientID string, connectTimeout time.Duration, onLost func(error)) Broker

// Compile-time interface check.
var _ Broker = (*pahoBroker)(nil)

// pahoBroker is a Broker backed by paho. Automatic reconnection is
// disabled: the transport manager owns retry policy.
type pahoBroker struct {
	client mqtt.Client
}

// DialPaho is the default DialFunc. url uses the ws:// or wss:// scheme.
func DialPaho(url, clientID string, connectTimeout time.Duration, onLost func(error)) Broker {
	options := mqtt.NewClientOptions().
		AddBroker(url).
		SetClientID(clientID).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		SetOrderMatters(true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			onLost(err)
		})
	return &pahoBroker{client: mqtt.NewClient(options)}
}

func (b *pahoBroker) Connect(ctx context.Context) error {
	return waitToken(ctx, b.client.Connect())
}

func (b *pahoBroker) Subscribe(ctx context.Context, topic string, deliver func(payload []byte)) error {
	token := b.client.Subscribe(topic, qos, func(_ mqtt.Client, message mqtt.Message) {
		deliver(message.Payload())
	})
	return waitToken(ctx, token)
}

func (b *pahoBroker) Publish(topic string, payload []byte) <-chan error {
	result := make(chan error, 1)
	token := b.client.Publish(topic, qos, false, payload)
	go func() {
		<-token.Done()
		result <- token.Error()
	}()
	return result
}

// Disconnect also aborts a connect still waiting for CONNACK; paho
// blocks until that attempt has been torn down.
func (b *pahoBroker) Disconnect() {
	b.client.Disconnect(disconnectQuiesce)
}

func waitToken(ctx context.Context, token mqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}
