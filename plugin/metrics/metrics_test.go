package metrics_test

import (
	"context"
	"testing"
	"time"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/database"
	"github.com/byearlybird/starling/plugin/metrics"
	"github.com/byearlybird/starling/validate"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if labelsMatch(m, labels) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetricsPluginCountsMutations(t *testing.T) {
	db := database.New("testdb", "0.0.0-test")
	tasks := collection.New("tasks", db.Clock(), validate.Nop, func(tk task) string { return tk.ID })
	db.Register("tasks", tasks)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db.Use(m)
	require.NoError(t, db.Init(context.Background()))
	defer func() { require.NoError(t, db.Dispose(context.Background())) }()

	require.NoError(t, tasks.Add(task{ID: "t1", Title: "a"}))
	require.NoError(t, tasks.Add(task{ID: "t2", Title: "b"}))
	require.NoError(t, tasks.Remove("t1"))

	// Batches reach the plugin in order, so once the last one (the
	// removal) has been counted, both additions have been too.
	require.Eventually(t, func() bool {
		return counterValue(t, reg, "starling_collection_mutations_total", map[string]string{"collection": "tasks", "kind": "removed"}) == 1
	}, time.Second, 10*time.Millisecond)

	assert.Equal(t, float64(2), counterValue(t, reg, "starling_collection_mutations_total", map[string]string{"collection": "tasks", "kind": "added"}))
}

func TestMetricsPluginDisposeUnregisters(t *testing.T) {
	db := database.New("testdb", "0.0.0-test")
	tasks := collection.New("tasks", db.Clock(), validate.Nop, func(tk task) string { return tk.ID })
	db.Register("tasks", tasks)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	db.Use(m)
	require.NoError(t, db.Init(context.Background()))
	require.NoError(t, db.Dispose(context.Background()))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.Empty(t, families)
}
