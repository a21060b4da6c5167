package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge-io/flowforge/pkg/engine"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

func TestMemoryStoreDefinitionRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	def := &pipeline.Definition{
		ID:   "p1",
		Name: "test pipeline",
		Nodes: []pipeline.NodeDefinition{
			{ID: "a", Kind: pipeline.KindFunction, PluginID: "builtin.math", FunctionID: "add"},
		},
		Variables: pipeline.Variables{Global: map[string]interface{}{"x": 1.0}},
	}
	require.NoError(t, store.SaveDefinition(ctx, def))

	loaded, err := store.LoadDefinition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "test pipeline", loaded.Name)
	require.Len(t, loaded.Nodes, 1)
	assert.Equal(t, pipeline.KindFunction, loaded.Nodes[0].Kind)

	// Loads are independent copies.
	loaded.Name = "mutated"
	again, err := store.LoadDefinition(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "test pipeline", again.Name)
}

func TestMemoryStoreMissingDefinition(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.LoadDefinition(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.DeleteDefinition(context.Background(), "nope"), ErrNotFound)
}

func TestMemoryStoreRejectsEmptyID(t *testing.T) {
	store := NewMemoryStore()
	assert.Error(t, store.SaveDefinition(context.Background(), &pipeline.Definition{}))
	assert.Error(t, store.SaveComposite(context.Background(), &pipeline.CompositeDefinition{}))
}

func TestMemoryStoreListSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.SaveDefinition(ctx, &pipeline.Definition{ID: id}))
	}
	ids, err := store.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)

	require.NoError(t, store.DeleteDefinition(ctx, "b"))
	ids, err = store.ListDefinitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, ids)
}

func TestMemoryStoreComposites(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	def := &pipeline.CompositeDefinition{
		CompositeID: "http-fetch",
		Version:     2,
		Subgraph: pipeline.Subgraph{
			Nodes: []pipeline.NodeDefinition{{ID: "n", Kind: pipeline.KindFunction}},
		},
	}
	require.NoError(t, store.SaveComposite(ctx, def))

	loaded, err := store.LoadComposite(ctx, "http-fetch")
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Version)

	ids, err := store.ListComposites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http-fetch"}, ids)

	_, err = store.LoadComposite(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// fakeObjects is an in-memory ObjectStore for result archiving tests.
type fakeObjects struct {
	data map[string][]byte
}

func (f *fakeObjects) Put(_ context.Context, path string, data []byte) error {
	if f.data == nil {
		f.data = make(map[string][]byte)
	}
	f.data[path] = data
	return nil
}

func (f *fakeObjects) Get(_ context.Context, path string) ([]byte, error) {
	data, ok := f.data[path]
	if !ok {
		return nil, ErrNotFound
	}
	return data, nil
}

func TestResultStoreRoundTrip(t *testing.T) {
	objects := &fakeObjects{}
	store := NewResultStore(objects, nil)
	ctx := context.Background()

	result := &engine.Result{
		PipelineID:    "p1",
		RunID:         "r1",
		Status:        engine.StatusResultCompleted,
		DataStore:     map[string]map[string]interface{}{"a": {"value": 1.0}},
		NodesExecuted: []string{"a"},
	}
	require.NoError(t, store.SaveResult(ctx, result))
	assert.Contains(t, objects.data, "results/p1/r1.json")

	loaded, err := store.LoadResult(ctx, "p1", "r1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusResultCompleted, loaded.Status)
	assert.Equal(t, 1.0, loaded.DataStore["a"]["value"])
}

func TestResultStoreValidation(t *testing.T) {
	store := NewResultStore(&fakeObjects{}, nil)
	ctx := context.Background()

	assert.Error(t, store.SaveResult(ctx, nil))
	assert.Error(t, store.SaveResult(ctx, &engine.Result{PipelineID: "p"}))

	_, err := store.LoadResult(ctx, "p", "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}
