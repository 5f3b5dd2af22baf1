// Package realtime publishes entity change events over redis pub/sub and
// relays them to subscribed clients as server-sent events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Module channel names. Clients subscribe by these identifiers.
const (
	ModuleMasterdata  = "masterdata"
	ModuleSales       = "sales"
	ModuleProcurement = "procurement"
	ModuleProduction  = "production"
	ModuleQC          = "qc"
	ModuleExternal    = "external"
	ModulePacking     = "packing"
	ModuleDispatch    = "dispatch"
	ModuleFinance     = "finance"
	ModuleSHE         = "she"
)

const channelPrefix = "events:"

// ChannelFor returns the redis pub/sub channel for a module.
func ChannelFor(module string) string {
	return channelPrefix + module
}

// Event describes a single entity change published to subscribers. ID feeds
// the SSE id field so reconnecting clients can spot replays.
type Event struct {
	ID       string    `json:"id"`
	Module   string    `json:"module"`
	Entity   string    `json:"entity"`
	Action   string    `json:"action"`
	EntityID int64     `json:"entity_id"`
	At       time.Time `json:"at"`
}

// MetricsPort counts published events.
type MetricsPort interface {
	ObserveEventPublished(module string)
}

// Notifier publishes change events over redis pub/sub.
type Notifier struct {
	client  *redis.Client
	metrics MetricsPort
	clock   func() time.Time
}

// NewNotifier constructs a Notifier.
func NewNotifier(client *redis.Client, metrics MetricsPort) *Notifier {
	return &Notifier{
		client:  client,
		metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Publish sends the event on its module channel.
func (n *Notifier) Publish(ctx context.Context, event Event) error {
	if n == nil || n.client == nil {
		return nil
	}
	if event.Module == "" {
		return fmt.Errorf("realtime: module required")
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.At.IsZero() {
		event.At = n.clock()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := n.client.Publish(ctx, ChannelFor(event.Module), payload).Err(); err != nil {
		return err
	}
	if n.metrics != nil {
		n.metrics.ObserveEventPublished(event.Module)
	}
	return nil
}
