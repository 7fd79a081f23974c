package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"hubspace-go-home/internal/capability"
)

// Attribute is one attribute value from a device snapshot.
type Attribute struct {
	ID      capability.AttributeKey
	Raw     string
	Updated time.Time
}

// Snapshot is the state of one device at the time of the call.
type Snapshot struct {
	Available  bool
	Attributes []Attribute
}

// Lookup returns the attribute with the given key.
func (s *Snapshot) Lookup(key capability.AttributeKey) (Attribute, bool) {
	for _, a := range s.Attributes {
		if a.ID == key {
			return a, true
		}
	}
	return Attribute{}, false
}

// Status is the outcome of an attribute read.
type Status int

const (
	// Present means the device is online and reported the attribute.
	Present Status = iota
	// Unavailable means the device is offline; there is no current value.
	Unavailable
	// NotFound means the device responded without the requested attribute.
	NotFound
)

func (s Status) String() string {
	switch s {
	case Present:
		return "present"
	case Unavailable:
		return "unavailable"
	case NotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Reading is the result of reading one attribute.
type Reading struct {
	Status  Status
	Key     capability.AttributeKey
	Raw     string
	Updated time.Time
}

// Boolean interprets the reading as a flag byte. ok is false unless the value is present.
func (r Reading) Boolean() (v bool, ok bool) {
	if r.Status != Present {
		return false, false
	}
	return DecodeBoolean(r.Raw), true
}

// Integer interprets the reading as a little-endian hex integer. ok is false
// unless the value is present and well formed.
func (r Reading) Integer() (v int64, ok bool) {
	if r.Status != Present {
		return 0, false
	}
	n, err := DecodeInteger(r.Raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

// wireString accepts JSON strings, numbers and booleans as a string.
type wireString string

func (w *wireString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = wireString(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	*w = wireString(data)
	return nil
}

type snapshotResponse struct {
	DeviceState *struct {
		Available bool `json:"available"`
	} `json:"deviceState"`
	Attributes []struct {
		ID               capability.AttributeKey `json:"id"`
		Value            wireString              `json:"value"`
		UpdatedTimestamp int64                   `json:"updatedTimestamp"`
	} `json:"attributes"`
}

func (c *Client) devicePath(ctx context.Context, deviceID string) (string, error) {
	account, err := c.AccountID(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("/accounts/%s/devices/%s", url.PathEscape(account), url.PathEscape(deviceID)), nil
}

// ReadSnapshot fetches the attributes and availability of one device. A
// response without device state is treated as unavailable.
func (c *Client) ReadSnapshot(ctx context.Context, deviceID string) (*Snapshot, error) {
	path, err := c.devicePath(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	data, err := c.do(ctx, "read device", http.MethodGet, path+"?expansions=attributes,state", nil)
	if err != nil {
		return nil, err
	}

	var resp snapshotResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parsing device state: %w", err)
	}

	snap := &Snapshot{
		Available:  resp.DeviceState != nil && resp.DeviceState.Available,
		Attributes: make([]Attribute, 0, len(resp.Attributes)),
	}
	for _, a := range resp.Attributes {
		attr := Attribute{ID: a.ID, Raw: string(a.Value)}
		if a.UpdatedTimestamp > 0 {
			attr.Updated = time.UnixMilli(a.UpdatedTimestamp)
		}
		snap.Attributes = append(snap.Attributes, attr)
	}
	return snap, nil
}

// ReadAttribute reads a single attribute from a fresh snapshot.
func (c *Client) ReadAttribute(ctx context.Context, deviceID string, key capability.AttributeKey) (Reading, error) {
	snap, err := c.ReadSnapshot(ctx, deviceID)
	if err != nil {
		return Reading{}, err
	}
	if !snap.Available {
		return Reading{Status: Unavailable, Key: key}, nil
	}
	attr, ok := snap.Lookup(key)
	if !ok {
		return Reading{Status: NotFound, Key: key}, nil
	}
	return Reading{Status: Present, Key: key, Raw: strings.TrimSpace(attr.Raw), Updated: attr.Updated}, nil
}

type writeAction struct {
	Type   string                  `json:"type"`
	AttrID capability.AttributeKey `json:"attrId"`
	Data   string                  `json:"data"`
}

// WriteAttribute encodes value per its wire type and submits a write action.
func (c *Client) WriteAttribute(ctx context.Context, deviceID string, key capability.AttributeKey, value Value) error {
	data, err := value.Encode()
	if err != nil {
		return err
	}
	path, err := c.devicePath(ctx, deviceID)
	if err != nil {
		return err
	}
	action := writeAction{Type: "attribute_write", AttrID: key, Data: data}
	if _, err := c.do(ctx, "write attribute", http.MethodPost, path+"/actions", action); err != nil {
		return err
	}
	c.logger.Debug("attribute written", "device", deviceID, "key", key, "kind", value.Kind())
	return nil
}
