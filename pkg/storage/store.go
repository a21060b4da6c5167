// Package storage persists pipeline and composite definitions. The
// in-memory store backs tests and embedded use; the blob store targets
// Azure Blob Storage (or a local Azurite instance over HTTP).
package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/flowforge-io/flowforge/pkg/pipeline"
)

// ErrNotFound indicates the requested definition does not exist.
var ErrNotFound = errors.New("definition not found")

// DefinitionStore persists pipeline and composite definitions by id.
type DefinitionStore interface {
	SaveDefinition(ctx context.Context, def *pipeline.Definition) error
	LoadDefinition(ctx context.Context, id string) (*pipeline.Definition, error)
	ListDefinitions(ctx context.Context) ([]string, error)
	DeleteDefinition(ctx context.Context, id string) error

	SaveComposite(ctx context.Context, def *pipeline.CompositeDefinition) error
	LoadComposite(ctx context.Context, id string) (*pipeline.CompositeDefinition, error)
	ListComposites(ctx context.Context) ([]string, error)
}

// MemoryStore is an in-process DefinitionStore. Definitions are stored as
// their JSON encoding so loads return independent copies.
type MemoryStore struct {
	mu         sync.RWMutex
	pipelines  map[string][]byte
	composites map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pipelines:  make(map[string][]byte),
		composites: make(map[string][]byte),
	}
}

func (m *MemoryStore) SaveDefinition(_ context.Context, def *pipeline.Definition) error {
	if def == nil || def.ID == "" {
		return errors.New("definition requires an id")
	}
	data, err := def.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.pipelines[def.ID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadDefinition(_ context.Context, id string) (*pipeline.Definition, error) {
	m.mu.RLock()
	data, ok := m.pipelines[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return pipeline.ParseDefinition(data)
}

func (m *MemoryStore) ListDefinitions(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.pipelines), nil
}

func (m *MemoryStore) DeleteDefinition(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pipelines[id]; !ok {
		return ErrNotFound
	}
	delete(m.pipelines, id)
	return nil
}

func (m *MemoryStore) SaveComposite(_ context.Context, def *pipeline.CompositeDefinition) error {
	if def == nil || def.CompositeID == "" {
		return errors.New("composite definition requires an id")
	}
	data, err := def.Marshal()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.composites[def.CompositeID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) LoadComposite(_ context.Context, id string) (*pipeline.CompositeDefinition, error) {
	m.mu.RLock()
	data, ok := m.composites[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return pipeline.ParseComposite(data)
}

func (m *MemoryStore) ListComposites(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.composites), nil
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
