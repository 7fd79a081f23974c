package device

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/cloud"
)

var (
	// ErrUnsupportedClass is returned for a device class outside the lookup table.
	ErrUnsupportedClass = errors.New("unsupported device class")
	// ErrMissingMetadata is returned for a leaf record without descriptive metadata.
	ErrMissingMetadata = errors.New("device has no metadata")
)

const maxDepth = 8

// Mapper converts raw vendor records into Nodes. Problems with a single
// device or function are logged and contained.
type Mapper struct {
	logger *slog.Logger
}

// NewMapper creates a mapper.
func NewMapper(logger *slog.Logger) *Mapper {
	return &Mapper{logger: logger.With("component", "mapper")}
}

// Map converts one record and its embedded children.
func (m *Mapper) Map(raw *cloud.RawDevice) (*Node, error) {
	return m.mapDevice(raw, nil, 0)
}

// MapAll converts a full metadevices response. Records referenced as another
// record's child are mapped under that parent rather than as roots. Records
// that fail to map are skipped.
func (m *Mapper) MapAll(raws []cloud.RawDevice) []*Node {
	index := make(map[string]*cloud.RawDevice, len(raws))
	referenced := make(map[string]bool)
	for i := range raws {
		index[raws[i].ID] = &raws[i]
		for _, c := range raws[i].Children {
			switch {
			case c.Device != nil:
				referenced[c.Device.ID] = true
			case c.Ref != "":
				referenced[c.Ref] = true
			}
		}
	}

	var nodes []*Node
	for i := range raws {
		if referenced[raws[i].ID] {
			continue
		}
		node, err := m.mapDevice(&raws[i], index, 0)
		if err != nil {
			m.logger.Warn("device skipped", "id", raws[i].ID, "name", raws[i].FriendlyName, "err", err)
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes
}

func hasMetadata(raw *cloud.RawDevice) bool {
	if raw.Description == nil {
		return false
	}
	d := raw.Description.Device
	return d.DeviceClass != "" || d.ManufacturerName != "" || d.Model != ""
}

func (m *Mapper) mapDevice(raw *cloud.RawDevice, index map[string]*cloud.RawDevice, depth int) (*Node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("device %s: nesting deeper than %d", raw.ID, maxDepth)
	}
	if raw.ID == "" {
		return nil, errors.New("device has no id")
	}

	node := &Node{ID: raw.ID, DeviceID: raw.DeviceID}
	if node.DeviceID == "" {
		node.DeviceID = raw.ID
	}

	switch {
	case !hasMetadata(raw) && len(raw.Children) > 0:
		node.Class = ClassComposite
	case !hasMetadata(raw):
		return nil, fmt.Errorf("device %s: %w", raw.ID, ErrMissingMetadata)
	default:
		info := raw.Description.Device
		class, ok := ClassFor(info.DeviceClass)
		if !ok {
			return nil, fmt.Errorf("device %s class %q: %w", raw.ID, info.DeviceClass, ErrUnsupportedClass)
		}
		node.Class = class
		node.Manufacturer = strings.TrimSpace(info.ManufacturerName)
		node.Models = splitModels(info.Model)
	}
	node.Name = displayName(raw, node)

	if raw.Description != nil {
		node.Functions = m.mapFunctions(node, raw.Description.Functions)
	}

	for _, c := range raw.Children {
		child := c.Device
		if child == nil {
			child = index[c.Ref]
		}
		if child == nil {
			m.logger.Warn("child reference not found", "parent", raw.ID, "ref", c.Ref)
			continue
		}
		mapped, err := m.mapDevice(child, index, depth+1)
		if err != nil {
			m.logger.Warn("child device skipped", "parent", raw.ID, "id", child.ID, "err", err)
			continue
		}
		node.Children = append(node.Children, mapped)
	}
	return node, nil
}

// mapFunctions keeps the structurally valid function entries.
func (m *Mapper) mapFunctions(node *Node, raws []cloud.RawFunction) []capability.FunctionRecord {
	var records []capability.FunctionRecord
	for _, rf := range raws {
		c, instance, ok := capability.FromVendor(rf.FunctionClass, rf.FunctionInstance)
		if !ok {
			m.logger.Debug("function class ignored", "device", node.Name, "class", rf.FunctionClass)
			continue
		}

		keys, malformed := functionKeys(rf)
		if malformed || len(keys) == 0 {
			m.logger.Warn("malformed function dropped", "device", node.Name,
				"class", rf.FunctionClass, "instance", rf.FunctionInstance)
			continue
		}

		rec := capability.FunctionRecord{
			Capability: c,
			Instance:   instance,
			Keys:       keys,
			Meta:       capability.ValueMeta{Type: rf.Type},
		}
		if rf.OutletIndex != nil {
			rec.Index = capability.At(*rf.OutletIndex)
		}
		for _, v := range rf.Values {
			if v.Range != nil {
				r := *v.Range
				rec.Meta.Range = &r
				break
			}
		}
		records = append(records, rec)
	}

	for _, q := range capability.Duplicates(records) {
		m.logger.Warn("duplicate function records", "device", node.Name, "query", q.String())
	}
	return records
}

// functionKeys collects the attribute keys of a function in declaration
// order. An entry with an empty key makes the whole function malformed.
func functionKeys(rf cloud.RawFunction) ([]capability.AttributeKey, bool) {
	var keys []capability.AttributeKey
	seen := make(map[capability.AttributeKey]bool)
	for _, v := range rf.Values {
		for _, dv := range v.DeviceValues {
			if dv.Key == "" {
				return nil, true
			}
			if seen[dv.Key] {
				continue
			}
			seen[dv.Key] = true
			keys = append(keys, dv.Key)
		}
	}
	return keys, false
}

func splitModels(s string) []string {
	var models []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			models = append(models, p)
		}
	}
	return models
}

func displayName(raw *cloud.RawDevice, node *Node) string {
	if name := strings.TrimSpace(raw.FriendlyName); name != "" {
		return name
	}
	if node.Manufacturer != "" && len(node.Models) > 0 {
		return node.Manufacturer + " " + node.Models[0]
	}
	if len(node.Models) > 0 {
		return node.Models[0]
	}
	return raw.ID
}
