package coordinator

import (
	"strconv"

	"hubspace-go-home/internal/capability"
	"hubspace-go-home/internal/device"
)

// Surface is one independently bindable control of an accessory: a
// capability, optionally qualified by instance or positional index, bound to
// the attribute key the resolver picked for it.
type Surface struct {
	Capability capability.Capability   `json:"capability"`
	Instance   string                  `json:"instance,omitempty"`
	Index      *int                    `json:"index,omitempty"`
	Key        capability.AttributeKey `json:"key"`
	Meta       capability.ValueMeta    `json:"meta"`
}

// Query returns the resolver query that addresses the surface.
func (s Surface) Query() capability.Query {
	return capability.Query{Capability: s.Capability, Instance: s.Instance, Index: s.Index}
}

// ID is a short identifier unique among a node's surfaces, e.g. "toggle-spigot-1" or "power-2".
func (s Surface) ID() string {
	id := string(s.Capability)
	if s.Instance != "" {
		id += "-" + s.Instance
	}
	if s.Index != nil {
		id += "-" + strconv.Itoa(*s.Index)
	}
	return id
}

// Surfaces expands a node into its control surfaces. A record carrying a
// positional index yields one surface; an unindexed record with several value
// slots yields one surface per slot. The count always follows the data.
func Surfaces(node *device.Node) []Surface {
	var queries []capability.Query
	for _, f := range node.Functions {
		q := capability.Query{Capability: f.Capability, Instance: f.Instance}
		switch {
		case f.Index != nil:
			q.Index = capability.At(*f.Index)
			queries = append(queries, q)
		case len(f.Keys) > 1:
			for i := range f.Keys {
				slot := q
				slot.Index = capability.At(i)
				queries = append(queries, slot)
			}
		default:
			queries = append(queries, q)
		}
	}

	seen := make(map[string]bool, len(queries))
	surfaces := make([]Surface, 0, len(queries))
	for _, q := range queries {
		if seen[q.String()] {
			continue
		}
		seen[q.String()] = true

		res, err := capability.Resolve(node.Functions, q)
		if err != nil {
			continue
		}
		surfaces = append(surfaces, Surface{
			Capability: q.Capability,
			Instance:   q.Instance,
			Index:      q.Index,
			Key:        res.Key,
			Meta:       res.Record.Meta,
		})
	}
	return surfaces
}
