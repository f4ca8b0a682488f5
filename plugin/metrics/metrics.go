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

// Package metrics implements a reference plugin.Plugin that registers
// Prometheus collectors for per-collection mutation counts and
// batch-to-batch latency, grounded directly on
// internal/staging/stage/metrics.go's stageStoreCount/
// stageStoreDurations CounterVec/HistogramVec pair.
package metrics

import (
	"context"
	"time"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/plugin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// latencyBuckets mirrors the teacher's internal/util/metrics package
// (referenced from metrics.go as metrics.LatencyBuckets, not present
// in the retrieved slice): a default prometheus.DefBuckets-shaped
// sequence is the standard substitute when that helper isn't
// available to import directly.
var latencyBuckets = prometheus.DefBuckets

// Plugin registers per-collection mutation Prometheus collectors on
// Init and unregisters them on Dispose. It is safe to construct one
// Plugin per Database; pass a dedicated *prometheus.Registry (e.g. for
// tests) or nil to use a fresh one.
type Plugin struct {
	registry *prometheus.Registry

	mutationCount *prometheus.CounterVec
	batchInterval *prometheus.HistogramVec

	lastBatch map[string]time.Time

	unsubscribe func()
}

// New creates a metrics Plugin. If registry is nil, a fresh
// prometheus.Registry is created so multiple Plugin instances (e.g.
// across tests) never collide on prometheus's global default
// registry.
func New(registry *prometheus.Registry) *Plugin {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	return &Plugin{registry: registry, lastBatch: make(map[string]time.Time)}
}

// Registry returns the registry this Plugin's collectors live in.
func (p *Plugin) Registry() *prometheus.Registry { return p.registry }

// Init implements plugin.Plugin.
func (p *Plugin) Init(ctx context.Context, db plugin.Database) error {
	p.mutationCount = promauto.With(p.registry).NewCounterVec(prometheus.CounterOpts{
		Name: "starling_collection_mutations_total",
		Help: "the number of resource mutations observed per collection and kind",
	}, []string{"collection", "kind"})

	p.batchInterval = promauto.With(p.registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "starling_collection_batch_interval_seconds",
		Help:    "the time between successive mutation batches for a collection",
		Buckets: latencyBuckets,
	}, []string{"collection"})

	p.unsubscribe = db.OnMutation(func(name string, s collection.Summary) {
		p.observe(name, s)
	})
	return nil
}

func (p *Plugin) observe(name string, s collection.Summary) {
	p.mutationCount.WithLabelValues(name, "added").Add(float64(len(s.AddedIDs)))
	p.mutationCount.WithLabelValues(name, "updated").Add(float64(len(s.UpdatedIDs)))
	p.mutationCount.WithLabelValues(name, "removed").Add(float64(len(s.RemovedIDs)))

	now := time.Now()
	if last, ok := p.lastBatch[name]; ok {
		p.batchInterval.WithLabelValues(name).Observe(now.Sub(last).Seconds())
	}
	p.lastBatch[name] = now
}

// Dispose implements plugin.Plugin.
func (p *Plugin) Dispose(ctx context.Context, db plugin.Database) error {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	if !p.registry.Unregister(p.mutationCount) {
		return errors.New("metrics plugin: mutation counter was not registered")
	}
	if !p.registry.Unregister(p.batchInterval) {
		return errors.New("metrics plugin: batch interval histogram was not registered")
	}
	return nil
}
