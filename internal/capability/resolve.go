package capability

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrCapabilityNotSupported is returned when no function record matches a query.
var ErrCapabilityNotSupported = errors.New("capability not supported")

// Resolution is the outcome of a successful lookup.
type Resolution struct {
	Record FunctionRecord
	Key    AttributeKey
	// Candidates is the number of records that matched. Values above one
	// indicate duplicate declarations; the first in declaration order wins.
	Candidates int
}

// Ambiguous reports whether more than one record matched.
func (r Resolution) Ambiguous() bool { return r.Candidates > 1 }

// Resolve finds the function record and attribute key for q. It performs no I/O.
//
// Records are filtered by capability, then by exact instance name (an empty
// instance only matches unqualified records). When q.Index is set, records
// carrying that literal index are preferred; otherwise an unindexed record
// with a value slot at that index matches.
func Resolve(functions []FunctionRecord, q Query) (Resolution, error) {
	var literal, slotted []int
	for i, f := range functions {
		if f.Capability != q.Capability || f.Instance != q.Instance || len(f.Keys) == 0 {
			continue
		}
		switch {
		case q.Index == nil:
			literal = append(literal, i)
		case f.Index != nil:
			if *f.Index == *q.Index {
				literal = append(literal, i)
			}
		case *q.Index >= 0 && *q.Index < len(f.Keys):
			slotted = append(slotted, i)
		}
	}

	if len(literal) > 0 {
		rec := functions[literal[0]]
		return Resolution{Record: rec, Key: rec.Keys[0], Candidates: len(literal)}, nil
	}
	if len(slotted) > 0 {
		rec := functions[slotted[0]]
		return Resolution{Record: rec, Key: rec.Keys[*q.Index], Candidates: len(slotted)}, nil
	}
	return Resolution{}, fmt.Errorf("%s: %w", q, ErrCapabilityNotSupported)
}

// Duplicates returns the queries that more than one record in functions answers
// to, in declaration order.
func Duplicates(functions []FunctionRecord) []Query {
	type ident struct {
		c     Capability
		inst  string
		index int
	}
	seen := make(map[ident]int)
	var dups []Query
	for _, f := range functions {
		id := ident{f.Capability, f.Instance, -1}
		if f.Index != nil {
			id.index = *f.Index
		}
		seen[id]++
		if seen[id] == 2 {
			q := Query{Capability: f.Capability, Instance: f.Instance}
			if f.Index != nil {
				q.Index = At(*f.Index)
			}
			dups = append(dups, q)
		}
	}
	return dups
}

// Resolver wraps Resolve with logging of integrity problems.
type Resolver struct {
	logger *slog.Logger
}

// NewResolver creates a resolver that logs to logger.
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger.With("component", "resolver")}
}

// Resolve looks up q in functions on behalf of the named device.
func (r *Resolver) Resolve(device string, functions []FunctionRecord, q Query) (Resolution, error) {
	res, err := Resolve(functions, q)
	if err != nil {
		r.logger.Error("capability not supported", "device", device, "query", q.String())
		return res, err
	}
	if res.Ambiguous() {
		r.logger.Warn("ambiguous function records, using first",
			"device", device, "query", q.String(), "candidates", res.Candidates, "key", res.Key)
	}
	return res, nil
}
