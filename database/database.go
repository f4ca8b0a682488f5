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

// Package database implements the named, multi-collection
// coordinator: a shared clock, a registry of collection.Handle
// collections, re-emission of their mutation streams to plugins, the
// plugin lifecycle, and snapshot-isolated multi-collection
// transactions. It is the top of the CRDT core's stack; everything
// below it (resource, document, collection) is collection-scoped,
// while Database is where those collections are wired together the
// way internal/source/logical/provider.go wires a Factory's
// dependencies.
package database

import (
	"context"
	"sort"
	"sync"

	"github.com/byearlybird/starling/clock"
	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/document"
	"github.com/byearlybird/starling/internal/notify"
	"github.com/byearlybird/starling/plugin"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrUnknownCollection is returned when a name passed to Staged does
// not match any registered collection.
var ErrUnknownCollection = errors.New("unknown collection")

// MutationEvent is a Database-level mutation notification: a
// collection.Summary tagged with the name of the collection it came
// from.
type MutationEvent struct {
	Collection string
	Summary    collection.Summary
}

// Database coordinates a named set of collections sharing one clock
// and one plugin lifecycle.
type Database struct {
	name    string
	version string
	clock   *clock.HLC

	mu          sync.Mutex
	collections map[string]collection.Handle
	plugins     []plugin.Plugin

	mutations *notify.Queue[MutationEvent]
}

// New creates an empty Database. Collections are added afterward with
// Register.
func New(name, version string) *Database {
	return &Database{
		name:        name,
		version:     version,
		clock:       clock.New(),
		collections: make(map[string]collection.Handle),
		mutations:   notify.NewQueue[MutationEvent](),
	}
}

// Name implements plugin.Database.
func (d *Database) Name() string { return d.name }

// Version returns the database's version string.
func (d *Database) Version() string { return d.version }

// Clock returns the clock shared by every collection registered on
// this Database.
func (d *Database) Clock() *clock.HLC { return d.clock }

// Register adds a collection under name and subscribes to its
// mutation stream so Database can re-emit it, tagged with name, to
// Database-level subscribers (including every attached plugin).
// Registering the same name twice replaces the previous collection.
func (d *Database) Register(name string, handle collection.Handle) {
	d.mu.Lock()
	d.collections[name] = handle
	d.mu.Unlock()

	handle.OnSummary(func(s collection.Summary) {
		d.mutations.Push(MutationEvent{Collection: name, Summary: s})
	})
}

// Collection implements plugin.Database.
func (d *Database) Collection(name string) (collection.Handle, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	h, ok := d.collections[name]
	return h, ok
}

// CollectionNames implements plugin.Database.
func (d *Database) CollectionNames() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.collections))
	for name := range d.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OnMutation implements plugin.Database. Every mutation from every
// collection is delivered, in order; none are coalesced for a slow
// subscriber. The returned unsubscribe stops delivery; it does not
// block on any in-flight handler call.
func (d *Database) OnMutation(handler func(collectionName string, s collection.Summary)) (unsubscribe func()) {
	return d.mutations.Subscribe(func(e MutationEvent) {
		handler(e.Collection, e.Summary)
	})
}

// ToDocuments snapshots every registered collection.
func (d *Database) ToDocuments() map[string]document.Document {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]document.Document, len(d.collections))
	for name, h := range d.collections {
		out[name] = h.ToDocument()
	}
	return out
}

// Use registers a plugin to be started by the next Init call and
// stopped, in reverse order, by Dispose.
func (d *Database) Use(p plugin.Plugin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.plugins = append(d.plugins, p)
}

// Init starts every registered plugin, in registration order,
// stopping at the first error.
func (d *Database) Init(ctx context.Context) error {
	for _, p := range d.snapshotPlugins() {
		if err := p.Init(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// Dispose stops every registered plugin, in reverse registration
// order. Every plugin's Dispose is attempted even if an earlier one
// fails; the first error encountered is returned once all have run.
func (d *Database) Dispose(ctx context.Context) error {
	plugins := d.snapshotPlugins()
	var first error
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Dispose(ctx, d); err != nil {
			log.WithFields(log.Fields{"database": d.name}).WithError(err).Warn("plugin dispose failed")
			if first == nil {
				first = err
			}
		}
	}
	return first
}

func (d *Database) snapshotPlugins() []plugin.Plugin {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]plugin.Plugin, len(d.plugins))
	copy(out, d.plugins)
	return out
}
