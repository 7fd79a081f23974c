// Package device maps raw vendor device records onto an immutable device tree.
package device

import (
	"strings"

	"hubspace-go-home/internal/capability"
)

// Class is the classification of a device.
type Class string

const (
	ClassLight       Class = "light"
	ClassFan         Class = "fan"
	ClassOutlet      Class = "outlet"
	ClassSprinkler   Class = "sprinkler"
	ClassMultiOutlet Class = "multi-outlet"
	// ClassComposite is a grouping parent without metadata of its own.
	ClassComposite Class = "composite"
)

var vendorClasses = map[string]Class{
	"light":                  ClassLight,
	"fan":                    ClassFan,
	"power-outlet":           ClassOutlet,
	"water-timer":            ClassSprinkler,
	"multi-outlet-accessory": ClassMultiOutlet,
}

// ClassFor returns the class for a vendor deviceClass string.
func ClassFor(vendorClass string) (Class, bool) {
	c, ok := vendorClasses[strings.ToLower(strings.TrimSpace(vendorClass))]
	return c, ok
}

// Node is one device in the tree. Nodes are built fresh every discovery
// cycle and not modified afterwards.
type Node struct {
	ID           string                      `json:"id"`
	DeviceID     string                      `json:"deviceId"`
	Name         string                      `json:"name"`
	Class        Class                       `json:"class"`
	Manufacturer string                      `json:"manufacturer,omitempty"`
	Models       []string                    `json:"models,omitempty"`
	Functions    []capability.FunctionRecord `json:"functions,omitempty"`
	Children     []*Node                     `json:"children,omitempty"`
}

// Addressable reports whether the node receives an accessory of its own:
// anything with functions, and any leaf that is not a bare grouping parent.
func (n *Node) Addressable() bool {
	if len(n.Functions) > 0 {
		return true
	}
	return len(n.Children) == 0 && n.Class != ClassComposite
}

// Flatten returns the addressable nodes of the tree in depth-first order.
func (n *Node) Flatten() []*Node {
	var out []*Node
	n.walk(func(node *Node) {
		if node.Addressable() {
			out = append(out, node)
		}
	})
	return out
}

func (n *Node) walk(fn func(*Node)) {
	fn(n)
	for _, c := range n.Children {
		c.walk(fn)
	}
}

// Has reports whether the node declares capability c under any instance or index.
func (n *Node) Has(c capability.Capability) bool {
	for _, f := range n.Functions {
		if f.Capability == c {
			return true
		}
	}
	return false
}
