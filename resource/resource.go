// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package resource implements the single-entity CRDT at the bottom of
// the stack: a map of attributes whose leaves each carry their own
// eventstamp, merged with field-level last-writer-wins semantics, plus
// a tombstone for deletion. Resources are value types; Make, Merge,
// and Delete all return new values rather than mutating their inputs.
package resource

import (
	"github.com/byearlybird/starling/eventstamp"
	"github.com/byearlybird/starling/internal/pathtree"
	"github.com/pkg/errors"
)

// ErrNotAnObject is returned by Make when the supplied data is not a
// map[string]any at its root.
var ErrNotAnObject = errors.New("resource data must be an object")

// ErrTypeMismatch is returned by Merge when the two resources carry
// different Type labels. The source code this module is modeled on
// mixed enforced-raise and silent-accept behavior for this case across
// revisions; this implementation always rejects the mismatch.
var ErrTypeMismatch = errors.New("cannot merge resources of different types")

// Meta carries the CRDT bookkeeping for a Resource: one eventstamp per
// leaf attribute path, an optional tombstone, and a cached maximum
// over both.
type Meta struct {
	// Eventstamps is keyed by dotted leaf path, e.g. "profile.name".
	// Intermediate path segments are never stored as keys.
	Eventstamps map[string]eventstamp.Eventstamp
	// DeletedAt is nil unless the resource has been tombstoned.
	DeletedAt *eventstamp.Eventstamp
	// Latest is max(Eventstamps values, DeletedAt).
	Latest eventstamp.Eventstamp
}

// Resource is a single addressable, schema-validated entity.
type Resource struct {
	Type       string
	ID         string
	Attributes map[string]any
	Meta       Meta
}

// Make constructs a Resource by stamping every leaf of data with es.
// data must be a map[string]any (or nil, treated as an empty object);
// any other shape fails with ErrNotAnObject.
func Make(typ, id string, data any, es eventstamp.Eventstamp, deletedAt *eventstamp.Eventstamp) (Resource, error) {
	attrs, err := asObject(data)
	if err != nil {
		return Resource{}, err
	}

	eventstamps := make(map[string]eventstamp.Eventstamp)
	pathtree.Walk(attrs, func(path string, _ any) {
		eventstamps[path] = es
	})

	r := Resource{
		Type:       typ,
		ID:         id,
		Attributes: attrs,
		Meta: Meta{
			Eventstamps: eventstamps,
			DeletedAt:   deletedAt,
		},
	}
	r.Meta.Latest = computeLatest(r.Meta)
	return r, nil
}

func asObject(data any) (map[string]any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, errors.Wrapf(ErrNotAnObject, "got %T", data)
	}
	return obj, nil
}

// computeLatest recomputes the cached maximum eventstamp across every
// field stamp and the tombstone, if any.
func computeLatest(m Meta) eventstamp.Eventstamp {
	latest := eventstamp.Min()
	for _, es := range m.Eventstamps {
		latest = eventstamp.Max(latest, es)
	}
	if m.DeletedAt != nil {
		latest = eventstamp.Max(latest, *m.DeletedAt)
	}
	return latest
}

// ComputeLatest recomputes and returns what r.Meta.Latest should be,
// without mutating r. Exported so collaborators that build a Resource
// by hand (e.g. a persistence plugin deserializing from storage) can
// validate the invariant documented on Meta.Latest.
func ComputeLatest(r Resource) eventstamp.Eventstamp {
	return computeLatest(r.Meta)
}

// Merge combines into and from, returning a new Resource whose Type
// and ID are taken from into. For every leaf path present in either
// side, the value carrying the greater eventstamp wins; ties are
// broken toward from. When one side's path is an ancestor of the
// other's (a scalar replacing a subtree, or vice versa), only the
// higher-stamped path is materialized into Attributes, though both
// stamps are kept in Meta.Eventstamps. The tombstone is the max of
// both sides' DeletedAt. Neither input is mutated.
func Merge(into, from Resource) (Resource, error) {
	if into.Type != from.Type {
		return Resource{}, errors.Wrapf(ErrTypeMismatch, "%q vs %q", into.Type, from.Type)
	}

	leaves := map[string]any{}
	eventstamps := make(map[string]eventstamp.Eventstamp, len(into.Meta.Eventstamps)+len(from.Meta.Eventstamps))

	intoLeaves := map[string]any{}
	pathtree.Walk(into.Attributes, func(path string, value any) {
		intoLeaves[path] = value
	})
	fromLeaves := map[string]any{}
	pathtree.Walk(from.Attributes, func(path string, value any) {
		fromLeaves[path] = value
	})

	paths := make(map[string]struct{}, len(into.Meta.Eventstamps)+len(from.Meta.Eventstamps))
	for p := range into.Meta.Eventstamps {
		paths[p] = struct{}{}
	}
	for p := range from.Meta.Eventstamps {
		paths[p] = struct{}{}
	}

	for p := range paths {
		intoStamp, intoHas := into.Meta.Eventstamps[p]
		fromStamp, fromHas := from.Meta.Eventstamps[p]

		switch {
		case intoHas && fromHas:
			if eventstamp.Compare(intoStamp, fromStamp) > 0 {
				leaves[p] = intoLeaves[p]
				eventstamps[p] = intoStamp
			} else {
				leaves[p] = fromLeaves[p]
				eventstamps[p] = fromStamp
			}
		case intoHas:
			leaves[p] = intoLeaves[p]
			eventstamps[p] = intoStamp
		default:
			leaves[p] = fromLeaves[p]
			eventstamps[p] = fromStamp
		}
	}

	deletedAt := maxTombstone(into.Meta.DeletedAt, from.Meta.DeletedAt)

	allPaths := make([]string, 0, len(leaves))
	for p := range leaves {
		allPaths = append(allPaths, p)
	}
	accepted := pathtree.ResolvePrefixConflicts(allPaths, func(a, b string) bool {
		return eventstamp.Compare(eventstamps[a], eventstamps[b]) > 0
	})
	materialized := make(map[string]any, len(leaves))
	for p, v := range leaves {
		if accepted[p] {
			materialized[p] = v
		}
	}

	merged := Resource{
		Type:       into.Type,
		ID:         into.ID,
		Attributes: pathtree.Build(materialized),
		Meta: Meta{
			Eventstamps: eventstamps,
			DeletedAt:   deletedAt,
		},
	}
	merged.Meta.Latest = computeLatest(merged.Meta)
	return merged, nil
}

func maxTombstone(a, b *eventstamp.Eventstamp) *eventstamp.Eventstamp {
	switch {
	case a == nil && b == nil:
		return nil
	case a == nil:
		v := *b
		return &v
	case b == nil:
		v := *a
		return &v
	default:
		v := eventstamp.Max(*a, *b)
		return &v
	}
}

// Delete returns a copy of r tombstoned at es. If r already carries a
// greater-or-equal tombstone, that tombstone is kept and only Latest
// is recomputed; callers in this module only ever invoke Delete
// with a freshly minted eventstamp, which is always greater than any
// prior state, so in practice this always advances the tombstone.
func Delete(r Resource, es eventstamp.Eventstamp) Resource {
	out := r
	if r.Meta.DeletedAt == nil || eventstamp.Compare(es, *r.Meta.DeletedAt) > 0 {
		out.Meta.DeletedAt = &es
	}
	out.Meta.Latest = computeLatest(out.Meta)
	return out
}

// IsDeleted reports whether r carries a tombstone.
func (r Resource) IsDeleted() bool {
	return r.Meta.DeletedAt != nil
}
