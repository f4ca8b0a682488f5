package resource_test

import (
	"testing"

	"github.com/byearlybird/starling/eventstamp"
	"github.com/byearlybird/starling/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(ms int64) eventstamp.Eventstamp {
	return eventstamp.Encode(ms, 0, "0000")
}

func TestMakeRejectsNonObject(t *testing.T) {
	_, err := resource.Make("users", "u1", "not-an-object", ts(1), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrNotAnObject)
}

func TestMakeStampsEveryLeaf(t *testing.T) {
	r, err := resource.Make("users", "u1", map[string]any{
		"name": "Alice",
		"age":  30,
	}, ts(1), nil)
	require.NoError(t, err)

	assert.Equal(t, ts(1), r.Meta.Eventstamps["name"])
	assert.Equal(t, ts(1), r.Meta.Eventstamps["age"])
	assert.Equal(t, ts(1), r.Meta.Latest)
	assert.Equal(t, resource.ComputeLatest(r), r.Meta.Latest)
}

// S1 — field-level LWW across replicas.
func TestMergeFieldLevelLWW(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice", "age": 30}, ts(1), nil)
	require.NoError(t, err)

	b, err := resource.Make("users", "u1", map[string]any{"age": 31}, ts(3), nil)
	require.NoError(t, err)

	merged, err := resource.Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, "Alice", merged.Attributes["name"])
	assert.Equal(t, 31, merged.Attributes["age"])
	assert.Nil(t, merged.Meta.DeletedAt)
	assert.Equal(t, ts(3), merged.Meta.Latest)
}

// S2 — concurrent disjoint fields.
func TestMergeDisjointFieldsBothSurvive(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)
	b, err := resource.Make("users", "u1", map[string]any{"age": 30}, ts(2), nil)
	require.NoError(t, err)

	merged, err := resource.Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, "Alice", merged.Attributes["name"])
	assert.Equal(t, 30, merged.Attributes["age"])
	assert.Equal(t, ts(1), merged.Meta.Eventstamps["name"])
	assert.Equal(t, ts(2), merged.Meta.Eventstamps["age"])
	assert.Equal(t, ts(2), merged.Meta.Latest)
}

// S3 — delete dominates stale writes but attributes still merge.
func TestDeleteDominatesButAttributesStillMerge(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)

	deleted := resource.Delete(a, ts(2))
	require.True(t, deleted.IsDeleted())

	external, err := resource.Make("users", "u1", map[string]any{"name": "Bob"}, ts(3), nil)
	require.NoError(t, err)

	merged, err := resource.Merge(deleted, external)
	require.NoError(t, err)

	assert.True(t, merged.IsDeleted())
	assert.Equal(t, ts(2), *merged.Meta.DeletedAt)
	assert.Equal(t, "Bob", merged.Attributes["name"])
	assert.Equal(t, ts(3), merged.Meta.Latest)
}

// S4 — schema-change path preservation.
func TestMergePreservesBothOldAndNewSchemaPaths(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{
		"profile": map[string]any{
			"personal": map[string]any{"name": "Alice"},
		},
	}, ts(1), nil)
	require.NoError(t, err)

	b, err := resource.Make("users", "u1", map[string]any{
		"profile": map[string]any{"personal": "Alice Smith"},
	}, ts(2), nil)
	require.NoError(t, err)

	merged, err := resource.Merge(a, b)
	require.NoError(t, err)

	assert.Equal(t, ts(2), merged.Meta.Eventstamps["profile.personal"])
	assert.Equal(t, ts(1), merged.Meta.Eventstamps["profile.personal.name"])

	profile := merged.Attributes["profile"].(map[string]any)
	assert.Equal(t, "Alice Smith", profile["personal"])
}

func TestMergeRejectsTypeMismatch(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)
	b, err := resource.Make("accounts", "u1", map[string]any{"name": "Alice"}, ts(2), nil)
	require.NoError(t, err)

	_, err = resource.Merge(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, resource.ErrTypeMismatch)
}

func TestMergeIsCommutative(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice", "age": 30}, ts(1), nil)
	require.NoError(t, err)
	b, err := resource.Make("users", "u1", map[string]any{"age": 31}, ts(3), nil)
	require.NoError(t, err)

	ab, err := resource.Merge(a, b)
	require.NoError(t, err)
	ba, err := resource.Merge(b, a)
	require.NoError(t, err)

	assert.Equal(t, ab.Attributes, ba.Attributes)
	assert.Equal(t, ab.Meta.DeletedAt, ba.Meta.DeletedAt)
}

func TestMergeIsIdempotent(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)

	merged, err := resource.Merge(a, a)
	require.NoError(t, err)

	assert.Equal(t, a.Attributes, merged.Attributes)
	assert.Equal(t, a.Meta.Latest, merged.Meta.Latest)
}

func TestMergeIsAssociative(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)
	b, err := resource.Make("users", "u1", map[string]any{"age": 30}, ts(2), nil)
	require.NoError(t, err)
	c, err := resource.Make("users", "u1", map[string]any{"city": "NYC"}, ts(3), nil)
	require.NoError(t, err)

	ab, err := resource.Merge(a, b)
	require.NoError(t, err)
	abc1, err := resource.Merge(ab, c)
	require.NoError(t, err)

	bc, err := resource.Merge(b, c)
	require.NoError(t, err)
	abc2, err := resource.Merge(a, bc)
	require.NoError(t, err)

	assert.Equal(t, abc1.Attributes, abc2.Attributes)
}

func TestDeletionIsFinal(t *testing.T) {
	a, err := resource.Make("users", "u1", map[string]any{"name": "Alice"}, ts(1), nil)
	require.NoError(t, err)
	deleted := resource.Delete(a, ts(2))

	for i := int64(3); i < 10; i++ {
		update, err := resource.Make("users", "u1", map[string]any{"name": "Bob"}, ts(i), nil)
		require.NoError(t, err)
		deleted, err = resource.Merge(deleted, update)
		require.NoError(t, err)
		assert.True(t, deleted.IsDeleted())
	}
}
