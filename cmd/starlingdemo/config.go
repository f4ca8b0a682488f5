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

package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Config is the user-visible configuration for the demo binary,
// bound from flags the same way internal/source/server/config.go
// binds *its* Config.
type Config struct {
	Name    string
	Version string

	RedisAddr      string
	MetricsEnabled bool
}

// Bind registers flags onto flags.
func (c *Config) Bind(flags *pflag.FlagSet) {
	flags.StringVar(&c.Name, "name", "starlingdemo", "the name of the demo database")
	flags.StringVar(&c.Version, "version", "0.0.1", "the version of the demo database")
	flags.StringVar(&c.RedisAddr, "redisAddr", "localhost:6379", "address of the Redis instance the sync plugin mirrors into")
	flags.BoolVar(&c.MetricsEnabled, "metrics", true, "register the Prometheus metrics plugin")
}

// Preflight validates the bound flag values.
func (c *Config) Preflight() error {
	if c.Name == "" {
		return errors.New("name unset")
	}
	if c.RedisAddr == "" {
		return errors.New("redisAddr unset")
	}
	return nil
}
