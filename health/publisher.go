package health

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"

	"github.com/danielorbach/go-component"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gocloud.dev/pubsub"

	"github.com/go-microgrid/go-microgrid/channels"
)

type statusPublisher struct {
	poolName string
	source   *channels.Receiver[ComponentPoolStatus]
	sink     *pubsub.Topic
}

// NewStatusPublisher returns a [component.Procedure] that forwards every
// ComponentPoolStatus received from the given source onto the specified
// pubsub sink, gob-encoded, for consumers outside the process (e.g. the power
// distribution policy).
//
// The pool name is included as metadata on every message to enable key-based
// partitioning in brokers that support it, so consumers of a single pool
// observe its status messages in publish order.
func NewStatusPublisher(poolName string, source *channels.Receiver[ComponentPoolStatus], sink *pubsub.Topic) component.Procedure {
	return statusPublisher{
		poolName: poolName,
		source:   source,
		sink:     sink,
	}
}

func (p statusPublisher) Exec(l *component.L) {
	logger := component.Logger(l.Context()).With(slog.String("pool", p.poolName))
	for l.Continue() {
		select {
		case <-l.GraceContext().Done():
			return
		case status, ok := <-p.source.C():
			if !ok {
				return
			}
			if err := p.publish(l.GraceContext(), status); err != nil {
				// A transport failure stays local to this actor: the status
				// view itself is unaffected and the next change will publish
				// again.
				logger.Error("Couldn't publish pool status message", slog.Any("error", err))
			}
		}
	}
}

// publish gob-encodes one pool status snapshot and sends it to the sink.
func (p statusPublisher) publish(ctx context.Context, status ComponentPoolStatus) error {
	ctx, span := tracer.Start(ctx, "statusPublisher.publish", trace.WithAttributes(
		attribute.String("pool", p.poolName),
		attribute.Int("working", len(status.Working)),
		attribute.Int("uncertain", len(status.Uncertain)),
	))
	defer span.End()

	var b bytes.Buffer
	if err := gob.NewEncoder(&b).Encode(status); err != nil {
		err := fmt.Errorf("encode gob: %w", err)
		span.SetStatus(codes.Error, err.Error())
		measurePublishFailure(ctx, p.poolName)
		return err
	}

	msg := &pubsub.Message{Body: b.Bytes(), Metadata: map[string]string{"pool": p.poolName}}
	if err := p.sink.Send(ctx, msg); err != nil {
		err := fmt.Errorf("send: %w", err)
		span.SetStatus(codes.Error, err.Error())
		measurePublishFailure(ctx, p.poolName)
		return err
	}
	return nil
}
