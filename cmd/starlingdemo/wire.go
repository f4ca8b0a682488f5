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

//go:build wireinject

package main

import (
	"context"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/database"
	"github.com/byearlybird/starling/plugin/metrics"
	"github.com/byearlybird/starling/plugin/syncredis"
	"github.com/byearlybird/starling/validate"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
)

// Set is used by Wire, mirroring the Set wire.NewSet declared in
// internal/source/logical/provider.go.
var Set = wire.NewSet(
	ProvideRedisClient,
	ProvideDatabase,
	ProvideTasksCollection,
	ProvideMetricsPlugin,
	ProvideSyncRedisPlugin,
	ProvideApp,
)

// ProvideRedisClient is called by Wire to construct the Redis client
// the sync plugin mirrors into.
func ProvideRedisClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
}

// ProvideDatabase is called by Wire to construct the demo Database.
func ProvideDatabase(cfg *Config) *database.Database {
	return database.New(cfg.Name, cfg.Version)
}

// ProvideTasksCollection is called by Wire to construct and register
// the demo's one collection.
func ProvideTasksCollection(db *database.Database) *collection.Collection[Task] {
	tasks := collection.New("tasks", db.Clock(), validate.StructTag{}, func(t Task) string { return t.ID })
	db.Register("tasks", tasks)
	return tasks
}

// ProvideMetricsPlugin is called by Wire to construct the metrics
// plugin and attach it to db.
func ProvideMetricsPlugin(db *database.Database) *metrics.Plugin {
	m := metrics.New(nil)
	db.Use(m)
	return m
}

// ProvideSyncRedisPlugin is called by Wire to construct the syncredis
// plugin and attach it to db.
func ProvideSyncRedisPlugin(db *database.Database, client *redis.Client) *syncredis.Plugin {
	s := syncredis.New(client, "starlingdemo:", 0)
	db.Use(s)
	return s
}

// ProvideApp is called by Wire to assemble the demo App.
func ProvideApp(db *database.Database, tasks *collection.Collection[Task], client *redis.Client) *App {
	return &App{DB: db, Tasks: tasks, Redis: client}
}

// InitializeDemo wires together a demo App from cfg.
func InitializeDemo(ctx context.Context, cfg *Config) (*App, func(), error) {
	wire.Build(Set)
	return nil, nil, nil
}
