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

// Command starlingdemo is a small, wire-assembled example that
// configures a Database, registers the metrics and sync plugins, and
// runs a handful of CRDT operations against it. It exercises the
// config/flags/DI ambient stack; it is explicitly not part of the
// CRDT core.
package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

// Task is the demo's one application-level collection type.
type Task struct {
	ID        string `json:"id"`
	Title     string `json:"title" starling:"required"`
	Completed bool   `json:"completed"`
}

func main() {
	cfg := &Config{}
	cfg.Bind(pflag.CommandLine)
	pflag.Parse()

	if err := cfg.Preflight(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx := context.Background()
	app, cleanup, err := InitializeDemo(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize demo")
	}
	defer cleanup()

	if err := app.DB.Init(ctx); err != nil {
		log.WithError(err).Fatal("failed to start plugins")
	}
	defer func() {
		if err := app.DB.Dispose(ctx); err != nil {
			log.WithError(err).Warn("plugin dispose reported an error")
		}
	}()

	if err := run(app); err != nil {
		log.WithError(err).Error("demo run failed")
		os.Exit(1)
	}
}

func run(app *App) error {
	if err := app.Tasks.Add(Task{ID: "t1", Title: "write the spec"}); err != nil {
		return err
	}
	if err := app.Tasks.Update("t1", Task{ID: "t1", Title: "write the spec", Completed: true}); err != nil {
		return err
	}
	if err := app.Tasks.Add(Task{ID: "t2", Title: "review the spec"}); err != nil {
		return err
	}
	if err := app.Tasks.Remove("t2"); err != nil {
		return err
	}

	for _, task := range app.Tasks.GetAll(false) {
		fmt.Printf("%s: %s (completed=%t)\n", task.ID, task.Title, task.Completed)
	}
	return nil
}
