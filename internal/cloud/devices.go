package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"hubspace-go-home/internal/capability"
)

// RawDevice is one vendor device record as returned by the metadevices call.
type RawDevice struct {
	ID           string          `json:"id"`
	DeviceID     string          `json:"deviceId"`
	TypeID       string          `json:"typeId"`
	FriendlyName string          `json:"friendlyName"`
	Description  *RawDescription `json:"description,omitempty"`
	Children     []RawChild      `json:"children,omitempty"`
}

// RawDescription is the descriptive metadata and function list of a device.
type RawDescription struct {
	Device    RawDeviceInfo `json:"device"`
	Functions []RawFunction `json:"functions"`
}

// RawDeviceInfo identifies the hardware.
type RawDeviceInfo struct {
	ManufacturerName string `json:"manufacturerName"`
	Model            string `json:"model"`
	DeviceClass      string `json:"deviceClass"`
}

// RawFunction is one entry of the vendor's loosely typed function list.
type RawFunction struct {
	FunctionClass    string             `json:"functionClass"`
	FunctionInstance string             `json:"functionInstance"`
	Type             string             `json:"type,omitempty"`
	OutletIndex      *int               `json:"outletIndex,omitempty"`
	Values           []RawFunctionValue `json:"values"`
}

// RawFunctionValue is one named value of a function.
type RawFunctionValue struct {
	Name         string            `json:"name"`
	DeviceValues []RawDeviceValue  `json:"deviceValues"`
	Range        *capability.Range `json:"range,omitempty"`
}

// RawDeviceValue ties a value to an attribute key.
type RawDeviceValue struct {
	Type string                  `json:"type"`
	Key  capability.AttributeKey `json:"key"`
}

// RawChild is a child entry. The API embeds either a full device record or a
// bare id referring to another record in the same response.
type RawChild struct {
	Ref    string
	Device *RawDevice
}

func (c *RawChild) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		return json.Unmarshal(data, &c.Ref)
	}
	var dev RawDevice
	if err := json.Unmarshal(data, &dev); err != nil {
		return err
	}
	c.Device = &dev
	return nil
}

func (c RawChild) MarshalJSON() ([]byte, error) {
	if c.Device != nil {
		return json.Marshal(c.Device)
	}
	return json.Marshal(c.Ref)
}

// Metadevices fetches the account's whole device graph in one call.
func (c *Client) Metadevices(ctx context.Context) ([]RawDevice, error) {
	account, err := c.AccountID(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf("/accounts/%s/metadevices", url.PathEscape(account))
	data, err := c.do(ctx, "list devices", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var devices []RawDevice
	if err := json.Unmarshal(data, &devices); err != nil {
		return nil, fmt.Errorf("parsing devices: %w", err)
	}
	c.logger.Debug("device graph fetched", "devices", len(devices))
	return devices, nil
}
