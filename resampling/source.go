package resampling

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/danielorbach/go-component"
	"gocloud.dev/pubsub"

	"github.com/go-microgrid/go-microgrid"
	"github.com/go-microgrid/go-microgrid/channels"
)

// telemetryEnvelope wraps a telemetry message for transport. The concrete
// ComponentData types are registered with gob by the microgrid package.
type telemetryEnvelope struct {
	Data microgrid.ComponentData
}

// EncodeTelemetry gob-encodes one telemetry message into the wire form the
// TelemetrySource expects. Transports and test fixtures use it to fabricate
// messages.
func EncodeTelemetry(data microgrid.ComponentData) ([]byte, error) {
	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(telemetryEnvelope{Data: data}); err != nil {
		return nil, fmt.Errorf("encode gob: %w", err)
	}
	return b.Bytes(), nil
}

// A TelemetrySource ingests timestamped measurement messages from the
// physical telemetry transport and fans them into the channel registry:
//
//   - every battery/inverter message is forwarded whole onto its component's
//     data channel (BatteryDataKey / InverterDataKey), which the health
//     trackers subscribe to;
//   - for each activated (component, metric) pair, the metric's value is
//     additionally extracted and sent as a raw Sample onto the metric channel
//     (RawMetricKey) feeding the resampling dispatcher.
type TelemetrySource struct {
	registry     *channels.Registry
	subscription *pubsub.Subscription

	mu sync.Mutex
	// routes holds one metric sender per activated (component, metric) pair.
	routes map[microgrid.ComponentID]map[microgrid.MetricID]*channels.Sender[Sample]
	// batterySenders and inverterSenders cache the whole-message senders,
	// created lazily on the first message of each component.
	batterySenders  map[microgrid.ComponentID]*channels.Sender[microgrid.BatteryData]
	inverterSenders map[microgrid.ComponentID]*channels.Sender[microgrid.InverterData]
}

// NewTelemetrySource returns a source draining the given subscription into
// the given registry.
func NewTelemetrySource(registry *channels.Registry, subscription *pubsub.Subscription) *TelemetrySource {
	return &TelemetrySource{
		registry:        registry,
		subscription:    subscription,
		routes:          make(map[microgrid.ComponentID]map[microgrid.MetricID]*channels.Sender[Sample]),
		batterySenders:  make(map[microgrid.ComponentID]*channels.Sender[microgrid.BatteryData]),
		inverterSenders: make(map[microgrid.ComponentID]*channels.Sender[microgrid.InverterData]),
	}
}

// Activate ensures the raw metric channel for the given pair exists in the
// registry and is filled from the transport. Activating the same pair again
// has no effect.
func (s *TelemetrySource) Activate(id microgrid.ComponentID, metric microgrid.MetricID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.routes[id][metric]; ok {
		return nil
	}
	sender, err := channels.SenderFor[Sample](s.registry, microgrid.RawMetricKey(id, metric))
	if err != nil {
		return fmt.Errorf("open raw metric channel: %w", err)
	}
	if s.routes[id] == nil {
		s.routes[id] = make(map[microgrid.MetricID]*channels.Sender[Sample])
	}
	s.routes[id][metric] = sender
	return nil
}

// Stream returns a component.Proc that continuously receives messages from
// the subscription, decodes them, and fans them into the registry. Malformed
// messages are logged and dropped; they never stop the stream.
func (s *TelemetrySource) Stream() component.Proc {
	return func(l *component.L) {
		logger := component.Logger(l.Context())
		for l.Continue() {
			msg, err := s.subscription.Receive(l.GraceContext())
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					// we're shutting down
					return
				}
				l.Errorf("receive: %v", err)
				continue
			}
			// always ack, even if we fail to decode.
			// otherwise, we might get stuck processing
			// the same failed message
			msg.Ack()

			s.handleBody(logger, msg.Body)
		}
	}
}

// handleBody decodes one wire message and fans it into the registry.
// Malformed bodies are logged and dropped.
func (s *TelemetrySource) handleBody(logger *slog.Logger, body []byte) {
	var envelope telemetryEnvelope
	if err := gob.NewDecoder(bytes.NewReader(body)).Decode(&envelope); err != nil {
		logger.Warn("Dropping undecodable telemetry message", slog.Any("error", err))
		return
	}
	s.dispatch(logger, envelope.Data)
}

// dispatch fans one decoded telemetry message into the registry.
func (s *TelemetrySource) dispatch(logger *slog.Logger, data microgrid.ComponentData) {
	switch d := data.(type) {
	case microgrid.BatteryData:
		sender, err := s.batterySender(d.ComponentID)
		if err != nil {
			logger.Error("Couldn't open battery data channel", slog.Any("error", err))
			return
		}
		if err := sender.Send(d); err != nil {
			logger.Warn("Dropping battery message for closed channel", slog.Any("error", err))
		}
	case microgrid.InverterData:
		sender, err := s.inverterSender(d.ComponentID)
		if err != nil {
			logger.Error("Couldn't open inverter data channel", slog.Any("error", err))
			return
		}
		if err := sender.Send(d); err != nil {
			logger.Warn("Dropping inverter message for closed channel", slog.Any("error", err))
		}
	default:
		logger.Warn("Dropping telemetry message of unknown kind",
			slog.Uint64("component-id", uint64(data.DataComponentID())),
		)
		return
	}

	s.mu.Lock()
	metricSenders := s.routes[data.DataComponentID()]
	s.mu.Unlock()
	for metric, sender := range metricSenders {
		value, ok := microgrid.MetricValue(data, metric)
		if !ok {
			continue
		}
		if err := sender.Send(NewSample(data.DataTimestamp(), value)); err != nil {
			logger.Warn("Dropping metric sample for closed channel", slog.Any("error", err))
		}
	}
}

func (s *TelemetrySource) batterySender(id microgrid.ComponentID) (*channels.Sender[microgrid.BatteryData], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.batterySenders[id]; ok {
		return sender, nil
	}
	sender, err := channels.SenderFor[microgrid.BatteryData](s.registry, microgrid.BatteryDataKey(id))
	if err != nil {
		return nil, err
	}
	s.batterySenders[id] = sender
	return sender, nil
}

func (s *TelemetrySource) inverterSender(id microgrid.ComponentID) (*channels.Sender[microgrid.InverterData], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sender, ok := s.inverterSenders[id]; ok {
		return sender, nil
	}
	sender, err := channels.SenderFor[microgrid.InverterData](s.registry, microgrid.InverterDataKey(id))
	if err != nil {
		return nil, err
	}
	s.inverterSenders[id] = sender
	return sender, nil
}
