package store

import (
	"time"

	"hubspace-go-home/internal/device"
)

// Accessory is a registered local accessory. ID is derived from the vendor
// device id; Context is the device node it was last reconciled against.
type Accessory struct {
	ID        string       `json:"id"`
	DeviceID  string       `json:"device_id"`
	Name      string       `json:"name"`
	Context   *device.Node `json:"context"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
