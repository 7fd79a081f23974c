// Package coordinator reconciles the local accessory registry with the vendor
// device graph and routes capability reads and writes to the transport.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/device"
	"hubspace-go-home/internal/store"
)

// Fetcher returns the account's raw device graph.
type Fetcher interface {
	Metadevices(ctx context.Context) ([]cloud.RawDevice, error)
}

// Transport reads and writes single device attributes.
type Transport interface {
	ReadAttribute(ctx context.Context, deviceID string, key capability.AttributeKey) (cloud.Reading, error)
	WriteAttribute(ctx context.Context, deviceID string, key capability.AttributeKey, value cloud.Value) error
}

// Coordinator owns the accessory registry.
type Coordinator struct {
	fetcher   Fetcher
	transport Transport
	store     store.Store
	events    *EventBus
	mapper    *device.Mapper
	resolver  *capability.Resolver
	recorder  Recorder
	logger    *slog.Logger

	// cycleMu serializes reconciliation cycles.
	cycleMu sync.Mutex

	// mu guards accessories. Reconciliation holds it for writing while it
	// applies a cycle, so lookups never see a half-applied registry.
	mu          sync.RWMutex
	accessories map[string]*store.Accessory
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithRecorder records every attribute read and write.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

// New creates a coordinator and loads the persisted registry. An empty store
// is a valid first run.
func New(fetcher Fetcher, transport Transport, st store.Store, events *EventBus, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	c := &Coordinator{
		fetcher:     fetcher,
		transport:   transport,
		store:       st,
		events:      events,
		mapper:      device.NewMapper(logger),
		resolver:    capability.NewResolver(logger),
		recorder:    nopRecorder{},
		logger:      logger.With("component", "coordinator"),
		accessories: make(map[string]*store.Accessory),
	}
	for _, opt := range opts {
		opt(c)
	}

	list, err := st.ListAccessories()
	if err != nil {
		return nil, fmt.Errorf("load accessories: %w", err)
	}
	for _, acc := range list {
		c.accessories[acc.ID] = acc
	}
	c.logger.Info("accessory registry loaded", "accessories", len(list))
	return c, nil
}

// Events returns the event bus.
func (c *Coordinator) Events() *EventBus { return c.events }

// Accessory returns the registered accessory with the given id.
func (c *Coordinator) Accessory(id string) (*store.Accessory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acc, ok := c.accessories[id]
	return acc, ok
}

// Accessories returns all registered accessories sorted by name.
func (c *Coordinator) Accessories() []*store.Accessory {
	c.mu.RLock()
	list := make([]*store.Accessory, 0, len(c.accessories))
	for _, acc := range c.accessories {
		list = append(list, acc)
	}
	c.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}
