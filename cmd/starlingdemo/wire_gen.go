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

// Hand-written stand-in for the file Wire would generate from wire.go.

//go:generate go run github.com/google/wire/cmd/wire
//go:build !wireinject
// +build !wireinject

package main

import (
	"context"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/database"
	"github.com/byearlybird/starling/plugin/metrics"
	"github.com/byearlybird/starling/plugin/syncredis"
	"github.com/byearlybird/starling/validate"
	"github.com/redis/go-redis/v9"
)

// App is the assembled demo application: a Database with one
// registered collection and its attached plugins.
type App struct {
	DB    *database.Database
	Tasks *collection.Collection[Task]
	Redis *redis.Client
}

// InitializeDemo wires together a demo App from cfg. It is written by
// hand after wire.go's injector signature and Set, and differs from
// that Set in two ways: the metrics plugin is attached only when
// cfg.MetricsEnabled is set, and the returned cleanup closes the
// Redis client.
func InitializeDemo(ctx context.Context, cfg *Config) (*App, func(), error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})

	db := database.New(cfg.Name, cfg.Version)

	tasks := collection.New("tasks", db.Clock(), validate.StructTag{}, func(t Task) string { return t.ID })
	db.Register("tasks", tasks)

	if cfg.MetricsEnabled {
		db.Use(metrics.New(nil))
	}
	db.Use(syncredis.New(client, "starlingdemo:", 0))

	app := &App{DB: db, Tasks: tasks, Redis: client}

	cleanup := func() {
		_ = client.Close()
	}
	return app, cleanup, nil
}
