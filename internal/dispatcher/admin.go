package dispatcher

import (
	"context"
	"fmt"

	"github.com/adred-codev/eventgate/internal/ordering"
	"github.com/adred-codev/eventgate/internal/registry"
	"github.com/adred-codev/eventgate/internal/replay"
)

// AdminPublish is the control-API analogue of Session.HandleMessage: it
// derives ordering from a zero-value ConnectionInfo (admin publishes have no
// owning session) and pushes to the broker and to any locally registered
// subscribers of subjects.
func (d *Dispatcher) AdminPublish(subjects []string, stream, routingKey string, payload map[string]any) (int, error) {
	d.metrics.IncPublish()

	orderingKey := d.ordering.DeriveOrderingKey(d.cfg.Ordering, ordering.ConnectionInfo{}, payload)
	stream, routingKey = d.ordering.ApplyPartition(d.cfg.Ordering, stream, routingKey, orderingKey)

	if d.publisher != nil && stream != "" {
		if err := d.publisher.Publish(stream, routingKey, payload); err != nil {
			return 0, fmt.Errorf("admin publish: broker: %w", err)
		}
		d.metrics.IncBrokerPublish()
	}

	sent, dropped := d.registry.SendToSubjects(subjects, payload)
	if sent > 0 {
		d.metrics.IncWSMessagesOut()
		d.metrics.IncBackpressureBuffered(int64(sent))
	}
	if dropped > 0 {
		d.metrics.IncBackpressureDropped(int64(dropped))
	}
	return sent, nil
}

// ListConnections implements the admin connection-listing RPC by
// delegating straight to ConnectionRegistry.List.
func (d *Dispatcher) ListConnections(filter registry.ListFilter) []registry.ConnectionInfo {
	return d.registry.List(filter)
}

// TriggerReplay invokes ReplayControl's single operation.
func (d *Dispatcher) TriggerReplay(ctx context.Context, req replay.Request) (replay.Result, error) {
	return d.replay.Replay(ctx, req)
}
