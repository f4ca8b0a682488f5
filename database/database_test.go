package database_test

import (
	"context"
	"testing"
	"time"

	"github.com/byearlybird/starling/collection"
	"github.com/byearlybird/starling/database"
	"github.com/byearlybird/starling/plugin"
	"github.com/byearlybird/starling/validate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func newTestDB(t *testing.T) (*database.Database, *collection.Collection[task]) {
	t.Helper()
	db := database.New("testdb", "0.0.0-test")
	tasks := collection.New("tasks", db.Clock(), validate.Nop, func(tk task) string { return tk.ID })
	db.Register("tasks", tasks)
	return db, tasks
}

func TestRegisterAndCollectionNames(t *testing.T) {
	db, _ := newTestDB(t)
	assert.Equal(t, []string{"tasks"}, db.CollectionNames())
}

func TestCollectionLookupMissing(t *testing.T) {
	db, _ := newTestDB(t)
	_, ok := db.Collection("missing")
	assert.False(t, ok)
}

func TestToDocumentsSnapshotsEveryCollection(t *testing.T) {
	db, tasks := newTestDB(t)
	require.NoError(t, tasks.Add(task{ID: "t1", Title: "x"}))

	docs := db.ToDocuments()
	require.Contains(t, docs, "tasks")
	assert.Len(t, docs["tasks"].Data, 1)
}

func TestOnMutationReceivesTaggedSummary(t *testing.T) {
	db, tasks := newTestDB(t)

	received := make(chan string, 1)
	unsubscribe := db.OnMutation(func(name string, s collection.Summary) {
		received <- name
	})
	defer unsubscribe()

	require.NoError(t, tasks.Add(task{ID: "t1", Title: "x"}))

	select {
	case name := <-received:
		assert.Equal(t, "tasks", name)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for mutation event")
	}
}

func TestOnMutationReceivesEveryConsecutiveMutation(t *testing.T) {
	db, tasks := newTestDB(t)

	received := make(chan string, 2)
	unsubscribe := db.OnMutation(func(name string, s collection.Summary) {
		received <- name
	})
	defer unsubscribe()

	require.NoError(t, tasks.Add(task{ID: "t1", Title: "a"}))
	require.NoError(t, tasks.Add(task{ID: "t2", Title: "b"}))

	for i := 0; i < 2; i++ {
		select {
		case name := <-received:
			assert.Equal(t, "tasks", name)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for mutation event %d of 2", i+1)
		}
	}
}

func TestBeginCommitsOnSuccess(t *testing.T) {
	db, tasks := newTestDB(t)

	err := db.Begin(func(tx *database.Tx) error {
		staged, err := database.Staged[task](tx, "tasks")
		if err != nil {
			return err
		}
		return staged.Add(task{ID: "t1", Title: "staged"})
	})
	require.NoError(t, err)

	got, ok := tasks.Get("t1", false)
	require.True(t, ok)
	assert.Equal(t, "staged", got.Title)
}

func TestBeginDiscardsOnError(t *testing.T) {
	db, tasks := newTestDB(t)

	boom := assert.AnError
	err := db.Begin(func(tx *database.Tx) error {
		staged, err := database.Staged[task](tx, "tasks")
		if err != nil {
			return err
		}
		if err := staged.Add(task{ID: "t1", Title: "staged"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, ok := tasks.Get("t1", false)
	assert.False(t, ok)
}

func TestBeginIsolatesUncommittedWrites(t *testing.T) {
	db, tasks := newTestDB(t)
	require.NoError(t, tasks.Add(task{ID: "t1", Title: "original"}))

	err := db.Begin(func(tx *database.Tx) error {
		staged, err := database.Staged[task](tx, "tasks")
		if err != nil {
			return err
		}
		if err := staged.Update("t1", task{ID: "t1", Title: "staged only"}); err != nil {
			return err
		}

		// The live collection must not observe the in-flight staged write.
		got, ok := tasks.Get("t1", false)
		require.True(t, ok)
		assert.Equal(t, "original", got.Title)
		return nil
	})
	require.NoError(t, err)

	got, ok := tasks.Get("t1", false)
	require.True(t, ok)
	assert.Equal(t, "staged only", got.Title)
}

func TestBeginRollbackDiscardsStagedWrites(t *testing.T) {
	db, tasks := newTestDB(t)

	err := db.Begin(func(tx *database.Tx) error {
		staged, err := database.Staged[task](tx, "tasks")
		if err != nil {
			return err
		}
		if err := staged.Add(task{ID: "t1", Title: "staged"}); err != nil {
			return err
		}
		return tx.Rollback()
	})
	require.ErrorIs(t, err, database.ErrRollback)

	_, ok := tasks.Get("t1", false)
	assert.False(t, ok)
}

func TestBeginUnknownCollection(t *testing.T) {
	db, _ := newTestDB(t)
	err := db.Begin(func(tx *database.Tx) error {
		_, err := database.Staged[task](tx, "missing")
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, database.ErrUnknownCollection)
}

type recordingPlugin struct {
	name     string
	initOrder, disposeOrder *[]string
	failInit, failDispose   bool
}

func (p *recordingPlugin) Init(ctx context.Context, db plugin.Database) error {
	*p.initOrder = append(*p.initOrder, p.name)
	if p.failInit {
		return assert.AnError
	}
	return nil
}

func (p *recordingPlugin) Dispose(ctx context.Context, db plugin.Database) error {
	*p.disposeOrder = append(*p.disposeOrder, p.name)
	if p.failDispose {
		return assert.AnError
	}
	return nil
}

func TestInitRunsInRegistrationOrder(t *testing.T) {
	db, _ := newTestDB(t)
	var order []string
	db.Use(&recordingPlugin{name: "a", initOrder: &order, disposeOrder: &[]string{}})
	db.Use(&recordingPlugin{name: "b", initOrder: &order, disposeOrder: &[]string{}})

	require.NoError(t, db.Init(context.Background()))
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestDisposeRunsInReverseOrderBestEffort(t *testing.T) {
	db, _ := newTestDB(t)
	var disposeOrder []string
	a := &recordingPlugin{name: "a", initOrder: &[]string{}, disposeOrder: &disposeOrder, failDispose: true}
	b := &recordingPlugin{name: "b", initOrder: &[]string{}, disposeOrder: &disposeOrder}
	db.Use(a)
	db.Use(b)

	require.NoError(t, db.Init(context.Background()))
	err := db.Dispose(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"b", "a"}, disposeOrder)
}
