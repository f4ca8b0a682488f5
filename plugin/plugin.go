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

// Package plugin defines the lifecycle contract a Database drives its
// persistence/sync collaborators through: an ordered Init on startup,
// a reverse-ordered, best-effort Dispose on shutdown. It intentionally
// says nothing about what a plugin does with a Database once
// attached — that's left to each plugin's own subscription against
// the collections it cares about, the same separation
// internal/source/logical/provider.go draws between wiring a Factory
// together and letting dialect-specific code drive it.
package plugin

import (
	"context"

	"github.com/byearlybird/starling/collection"
)

// Database is the subset of *database.Database a Plugin needs. It is
// defined here, rather than importing the database package directly,
// so that plugin stays a leaf package with no dependency on the
// coordinator it is attached to; database.Database satisfies it
// structurally.
type Database interface {
	Name() string
	// Collection returns the named collection's type-erased handle.
	Collection(name string) (collection.Handle, bool)
	// CollectionNames lists every registered collection.
	CollectionNames() []string
	// OnMutation subscribes handler to every collection's mutation
	// stream, re-emitted with the originating collection's name
	// attached. The returned unsubscribe stops delivery.
	OnMutation(handler func(collectionName string, s collection.Summary)) (unsubscribe func())
}

// Plugin is a persistence/sync/observability collaborator attached to
// a Database via Database.Use.
type Plugin interface {
	// Init is called once, in registration order, when the owning
	// Database starts up.
	Init(ctx context.Context, db Database) error
	// Dispose is called once, in reverse registration order, when the
	// owning Database shuts down. Every plugin's Dispose runs even if
	// an earlier one failed; see database.Database.Dispose for the
	// first-error-wins aggregation this implies.
	Dispose(ctx context.Context, db Database) error
}
