// Package relay carries accepted bid deltas from the instance that committed
// them to the dispatchers of every instance. Delivery is at-most-once; the
// dispatcher's per-subscriber version guard absorbs duplicates and reordering.
package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mcdev12/bidhouse/go/internal/metrics"
	"github.com/mcdev12/bidhouse/go/internal/models"
)

// Dispatcher is the local fan-out a relay feeds.
type Dispatcher interface {
	Dispatch(delta models.BidDelta)
}

// Publisher hands a delta to the relay. Implementations must not block on
// subscribers.
type Publisher interface {
	Publish(ctx context.Context, delta models.BidDelta) error
}

// Local dispatches in-process only. Used for single-instance deployments.
type Local struct {
	target Dispatcher
}

func NewLocal(target Dispatcher) *Local {
	return &Local{target: target}
}

func (l *Local) Publish(_ context.Context, delta models.BidDelta) error {
	l.target.Dispatch(delta)
	return nil
}

// MetricPublisher wraps a Publisher with metrics collection
type MetricPublisher struct {
	name      string
	publisher Publisher
	metrics   metrics.Collector
}

func NewMetricPublisher(name string, publisher Publisher, collector metrics.Collector) *MetricPublisher {
	return &MetricPublisher{name: name, publisher: publisher, metrics: collector}
}

func (p *MetricPublisher) Publish(ctx context.Context, delta models.BidDelta) error {
	err := p.publisher.Publish(ctx, delta)
	p.metrics.RecordRelayMessage(p.name, err == nil)
	return err
}

// encodeDelta is the payload shared by the NATS and Postgres relays.
func encodeDelta(delta models.BidDelta) ([]byte, error) {
	data, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal delta: %w", err)
	}
	return data, nil
}

// DecodeDelta parses a relayed delta and rejects ones without a version.
func DecodeDelta(data []byte) (models.BidDelta, error) {
	var delta models.BidDelta
	if err := json.Unmarshal(data, &delta); err != nil {
		return models.BidDelta{}, fmt.Errorf("failed to unmarshal delta: %w", err)
	}
	if delta.Version <= 0 {
		return models.BidDelta{}, fmt.Errorf("delta for item %s has no version", delta.ItemID)
	}
	return delta, nil
}

// messageID identifies one state transition for broker-side dedup.
func messageID(delta models.BidDelta) string {
	return fmt.Sprintf("%s:%d", delta.ItemID, delta.Version)
}
