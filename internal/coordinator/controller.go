package coordinator

import (
	"context"
	"errors"
	"fmt"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
	"hubspace-go-home/internal/store"
)

// ErrAccessoryNotFound is returned for an accessory id not in the registry.
var ErrAccessoryNotFound = errors.New("accessory not found")

// Recorder receives every completed attribute read and write.
type Recorder interface {
	RecordRead(acc *store.Accessory, q capability.Query, reading cloud.Reading)
	RecordWrite(acc *store.Accessory, q capability.Query, key capability.AttributeKey, value cloud.Value)
}

type nopRecorder struct{}

func (nopRecorder) RecordRead(*store.Accessory, capability.Query, cloud.Reading) {}
func (nopRecorder) RecordWrite(*store.Accessory, capability.Query, capability.AttributeKey, cloud.Value) {
}

// Resolve finds the accessory and the attribute key addressed by q. It waits
// for an in-progress reconciliation to finish applying.
func (c *Coordinator) Resolve(accessoryID string, q capability.Query) (*store.Accessory, capability.Resolution, error) {
	acc, ok := c.Accessory(accessoryID)
	if !ok || acc.Context == nil {
		return nil, capability.Resolution{}, fmt.Errorf("%s: %w", accessoryID, ErrAccessoryNotFound)
	}
	res, err := c.resolver.Resolve(acc.Name, acc.Context.Functions, q)
	if err != nil {
		return nil, res, err
	}
	return acc, res, nil
}

// Read fetches the current value behind q on the accessory. An offline device
// yields an Unavailable reading, not an error.
func (c *Coordinator) Read(ctx context.Context, accessoryID string, q capability.Query) (cloud.Reading, error) {
	acc, res, err := c.Resolve(accessoryID, q)
	if err != nil {
		return cloud.Reading{}, err
	}

	reading, err := c.transport.ReadAttribute(ctx, acc.DeviceID, res.Key)
	if err != nil {
		c.logger.Warn("attribute read failed", "accessory", acc.Name, "query", q.String(), "err", err)
		return cloud.Reading{}, err
	}
	if reading.Status == cloud.NotFound {
		c.logger.Error("attribute missing on device, mapping may be stale",
			"accessory", acc.Name, "query", q.String(), "key", res.Key)
	}

	c.recorder.RecordRead(acc, q, reading)
	c.events.Emit(Event{Type: EventAttributeRead, Data: AttributeEvent{
		AccessoryID: acc.ID,
		Query:       q.String(),
		Key:         res.Key,
		Status:      reading.Status.String(),
		Raw:         reading.Raw,
	}})
	return reading, nil
}

// Write sets the value behind q on the accessory. Nothing is cached locally,
// so a failed write leaves no state behind.
func (c *Coordinator) Write(ctx context.Context, accessoryID string, q capability.Query, value cloud.Value) error {
	acc, res, err := c.Resolve(accessoryID, q)
	if err != nil {
		return err
	}

	if err := c.transport.WriteAttribute(ctx, acc.DeviceID, res.Key, value); err != nil {
		c.logger.Warn("attribute write failed", "accessory", acc.Name, "query", q.String(), "err", err)
		return err
	}

	c.recorder.RecordWrite(acc, q, res.Key, value)
	c.events.Emit(Event{Type: EventAttributeWritten, Data: AttributeEvent{
		AccessoryID: acc.ID,
		Query:       q.String(),
		Key:         res.Key,
		Value:       value.String(),
	}})
	c.logger.Debug("attribute written", "accessory", acc.Name, "query", q.String(), "value", value.String())
	return nil
}
