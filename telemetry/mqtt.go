// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package telemetry

import (
	"context"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/tidwall/sjson"

	gnmi "github.com/STORDIS/orca-nw-lib-sub000"
	"github.com/STORDIS/orca-nw-lib-sub000/config"
)

const defaultPublishTimeout = 5 * time.Second

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// MQTTSink publishes every update as a JSON message on
// <prefix>/<device>/<kind>[/<key>].
type MQTTSink struct {
	client pahomqtt.Client
	prefix string
	qos    byte
}

var _ gnmi.TelemetrySink = (*MQTTSink)(nil)

// ConnectMQTT connects to the broker configured in cfg.
func ConnectMQTT(cfg config.MQTTConfig) (*MQTTSink, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(defaultConnectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: mqtt connect timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return NewMQTTSink(client, cfg.TopicPrefix, byte(cfg.QoS)), nil
}

// NewMQTTSink wraps a connected client.
func NewMQTTSink(client pahomqtt.Client, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

// Topic returns the topic u is published on.
func (s *MQTTSink) Topic(u *gnmi.DecodedUpdate) string {
	topic := s.prefix + "/" + topicEscaper.Replace(u.DeviceIP) + "/" + u.Kind.String()
	if u.Key != "" {
		topic += "/" + topicEscaper.Replace(u.Key)
	}
	return topic
}

// WriteUpdate publishes u and waits for the broker acknowledgement.
func (s *MQTTSink) WriteUpdate(_ context.Context, u *gnmi.DecodedUpdate) error {
	payload, err := encodeUpdate(u)
	if err != nil {
		return err
	}

	token := s.client.Publish(s.Topic(u), s.qos, false, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("mqtt publish timeout after %v", defaultPublishTimeout)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (s *MQTTSink) Close() error {
	s.client.Disconnect(250)
	return nil
}

// encodeUpdate renders u as {"device":..,"kind":..,"key":..,"timestamp":..,"values":{..}}.
func encodeUpdate(u *gnmi.DecodedUpdate) (string, error) {
	out, err := sjson.Set("", "device", u.DeviceIP)
	if err == nil {
		out, err = sjson.Set(out, "kind", u.Kind.String())
	}
	if err == nil && u.Key != "" {
		out, err = sjson.Set(out, "key", u.Key)
	}
	if err == nil {
		out, err = sjson.Set(out, "timestamp", u.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	for _, l := range u.Leaves {
		if err != nil {
			break
		}
		out, err = sjson.Set(out, "values."+escapeJSONPath(l.Name), l.Value)
	}
	if err != nil {
		return "", fmt.Errorf("encode update: %w", err)
	}
	return out, nil
}

var jsonPathEscaper = strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)

func escapeJSONPath(s string) string {
	return jsonPathEscaper.Replace(s)
}
