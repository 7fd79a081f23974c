package coordinator

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"

	"hubspace-go-home/internal/device"
	"hubspace-go-home/internal/store"
)

// accessoryNamespace seeds the name-based UUIDs of accessories.
var accessoryNamespace = uuid.MustParse("5d6b0f0e-8c1a-4c2e-9f59-3a7e2b61c4d8")

// AccessoryID derives the stable accessory identifier for a vendor device id.
func AccessoryID(vendorID string) string {
	return uuid.NewSHA1(accessoryNamespace, []byte(vendorID)).String()
}

// Result summarizes one reconciliation cycle. Slices hold accessory ids.
type Result struct {
	Created   []string      `json:"created"`
	Updated   []string      `json:"updated"`
	Removed   []string      `json:"removed"`
	Unchanged int           `json:"unchanged"`
	Duration  time.Duration `json:"duration"`
}

// Reconcile runs one discovery cycle: fetch and map the device graph, then
// create, update and remove accessories so the registry matches it. A failed
// or cancelled fetch leaves the registry untouched.
func (c *Coordinator) Reconcile(ctx context.Context) (*Result, error) {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	start := time.Now()
	raws, err := c.fetcher.Metadevices(ctx)
	if err != nil {
		c.emitFailure(start, err)
		return nil, fmt.Errorf("fetch device graph: %w", err)
	}

	var nodes []*device.Node
	for _, root := range c.mapper.MapAll(raws) {
		nodes = append(nodes, root.Flatten()...)
	}

	if err := ctx.Err(); err != nil {
		c.emitFailure(start, err)
		return nil, err
	}

	res, created, updated, removed, err := c.apply(nodes)
	if err != nil {
		c.emitFailure(start, err)
		return nil, err
	}
	res.Duration = time.Since(start)

	for _, acc := range created {
		c.events.Emit(accessoryEvent(EventAccessoryCreated, acc))
	}
	for _, acc := range updated {
		c.events.Emit(accessoryEvent(EventAccessoryUpdated, acc))
	}
	for _, acc := range removed {
		c.events.Emit(accessoryEvent(EventAccessoryRemoved, acc))
	}
	c.events.Emit(Event{Type: EventDiscoveryCompleted, Data: DiscoveryEvent{
		Created:   len(res.Created),
		Updated:   len(res.Updated),
		Removed:   len(res.Removed),
		Unchanged: res.Unchanged,
		Duration:  res.Duration,
	}})

	c.logger.Info("discovery cycle complete",
		"devices", len(nodes),
		"created", len(res.Created),
		"updated", len(res.Updated),
		"removed", len(res.Removed),
		"unchanged", res.Unchanged,
		"duration", res.Duration)
	return res, nil
}

// apply diffs nodes against the registry and persists the changes in one
// store transaction while holding the registry write lock.
func (c *Coordinator) apply(nodes []*device.Node) (res *Result, created, updated, removed []*store.Accessory, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res = &Result{}
	now := time.Now()
	visited := make(map[string]bool, len(nodes))
	var save []*store.Accessory

	for _, node := range nodes {
		id := AccessoryID(node.ID)
		if visited[id] {
			c.logger.Warn("device listed twice, keeping first", "device", node.ID, "name", node.Name)
			continue
		}
		visited[id] = true

		prev, ok := c.accessories[id]
		switch {
		case !ok:
			acc := &store.Accessory{
				ID:        id,
				DeviceID:  node.DeviceID,
				Name:      node.Name,
				Context:   node,
				CreatedAt: now,
				UpdatedAt: now,
			}
			save = append(save, acc)
			created = append(created, acc)
		case contextChanged(prev, node):
			acc := *prev
			acc.DeviceID = node.DeviceID
			acc.Name = node.Name
			acc.Context = node
			acc.UpdatedAt = now
			save = append(save, &acc)
			updated = append(updated, &acc)
		default:
			res.Unchanged++
		}
	}

	var removeIDs []string
	for id, acc := range c.accessories {
		if !visited[id] {
			removeIDs = append(removeIDs, id)
			removed = append(removed, acc)
		}
	}
	sort.Strings(removeIDs)
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })

	if len(save) > 0 || len(removeIDs) > 0 {
		if err := c.store.Apply(save, removeIDs); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("persist accessories: %w", err)
		}
	}

	for _, acc := range save {
		c.accessories[acc.ID] = acc
	}
	for _, id := range removeIDs {
		delete(c.accessories, id)
	}

	for _, acc := range created {
		res.Created = append(res.Created, acc.ID)
	}
	for _, acc := range updated {
		res.Updated = append(res.Updated, acc.ID)
	}
	res.Removed = removeIDs
	return res, created, updated, removed, nil
}

func contextChanged(prev *store.Accessory, node *device.Node) bool {
	return prev.DeviceID != node.DeviceID ||
		prev.Name != node.Name ||
		!reflect.DeepEqual(prev.Context, node)
}

func (c *Coordinator) emitFailure(start time.Time, err error) {
	c.logger.Warn("discovery cycle aborted", "err", err)
	c.events.Emit(Event{Type: EventDiscoveryFailed, Data: DiscoveryEvent{
		Duration: time.Since(start),
		Error:    err.Error(),
	}})
}
