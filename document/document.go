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

// Package document implements the inter-replica exchange format: a
// JSON:API-shaped envelope around a set of resources, and the merge
// operation that folds an incoming document into a local one while
// classifying the resulting changes as added, updated, or deleted.
package document

import (
	"github.com/byearlybird/starling/eventstamp"
	"github.com/byearlybird/starling/resource"
)

// JSONAPI is the fixed jsonapi envelope member.
type JSONAPI struct {
	Version string `json:"version"`
}

// Meta carries the document-level summary eventstamp.
type Meta struct {
	Latest eventstamp.Eventstamp `json:"latest"`
}

// Document is the unit of inter-replica exchange.
type Document struct {
	JSONAPI JSONAPI            `json:"jsonapi"`
	Meta    Meta               `json:"meta"`
	Data    []resource.Resource `json:"data"`
}

// New wraps resources into a Document, computing Meta.Latest as the
// max over every resource plus the provided clock reading. Passing the
// clock's Latest() here lets a receiving replica immediately Forward
// its own clock on ingest, per this module's resolution of the spec's
// open question on what Meta.Latest should mean.
func New(resources []resource.Resource, clockLatest eventstamp.Eventstamp) Document {
	latest := clockLatest
	for _, r := range resources {
		latest = eventstamp.Max(latest, r.Meta.Latest)
	}
	return Document{
		JSONAPI: JSONAPI{Version: "1.1"},
		Meta:    Meta{Latest: latest},
		Data:    resources,
	}
}

// Changes classifies the effect of merging one document into another,
// keyed by resource id.
type Changes struct {
	Added   map[string]resource.Resource
	Updated map[string]resource.Resource
	Deleted map[string]resource.Resource
}

func newChanges() Changes {
	return Changes{
		Added:   map[string]resource.Resource{},
		Updated: map[string]resource.Resource{},
		Deleted: map[string]resource.Resource{},
	}
}

// IsEmpty reports whether no resource id was classified at all, i.e.
// merging produced zero observable change.
func (c Changes) IsEmpty() bool {
	return len(c.Added) == 0 && len(c.Updated) == 0 && len(c.Deleted) == 0
}

// Merge folds from into into, returning the merged document and the
// classification of what changed. into is not mutated.
func Merge(into, from Document) (Document, Changes, error) {
	index := make(map[string]resource.Resource, len(into.Data))
	order := make([]string, 0, len(into.Data))
	for _, r := range into.Data {
		index[r.ID] = r
		order = append(order, r.ID)
	}

	newest := eventstamp.Max(into.Meta.Latest, from.Meta.Latest)
	changes := newChanges()

	for _, f := range from.Data {
		existing, found := index[f.ID]
		if !found {
			index[f.ID] = f
			order = append(order, f.ID)
			newest = eventstamp.Max(newest, f.Meta.Latest)
			if !f.IsDeleted() {
				changes.Added[f.ID] = f
			}
			continue
		}

		merged, err := resource.Merge(existing, f)
		if err != nil {
			return Document{}, Changes{}, err
		}
		index[f.ID] = merged
		newest = eventstamp.Max(newest, merged.Meta.Latest)

		wasDeleted := existing.IsDeleted()
		isDeleted := merged.IsDeleted()
		switch {
		case !wasDeleted && isDeleted:
			changes.Deleted[f.ID] = merged
		case !isDeleted && existing.Meta.Latest != merged.Meta.Latest:
			changes.Updated[f.ID] = merged
		}
	}

	data := make([]resource.Resource, 0, len(order))
	for _, id := range order {
		data = append(data, index[id])
	}

	return Document{
		JSONAPI: JSONAPI{Version: "1.1"},
		Meta:    Meta{Latest: newest},
		Data:    data,
	}, changes, nil
}
