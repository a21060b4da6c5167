package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/engine"
)

// ObjectStore is the raw byte-level surface a ResultStore writes through.
// BlobStore implements it; tests substitute an in-memory fake.
type ObjectStore interface {
	Put(ctx context.Context, path string, data []byte) error
	Get(ctx context.Context, path string) ([]byte, error)
}

// Put stores raw bytes at the given blob path.
func (b *BlobStore) Put(ctx context.Context, path string, data []byte) error {
	return b.upload(ctx, path, data)
}

// Get retrieves raw bytes from the given blob path.
func (b *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	return b.download(ctx, path)
}

// ResultStore archives execution results so large run outputs can be
// fetched later without holding them in memory.
type ResultStore struct {
	objects ObjectStore
	logger  *zap.Logger
}

func NewResultStore(objects ObjectStore, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{objects: objects, logger: logger}
}

// ResultPath returns the blob path for a run's archived result.
func ResultPath(pipelineID, runID string) string {
	return fmt.Sprintf("results/%s/%s.json", pipelineID, runID)
}

// SaveResult archives a result under its pipeline and run ids.
func (s *ResultStore) SaveResult(ctx context.Context, result *engine.Result) error {
	if result == nil {
		return errors.New("nil result")
	}
	if result.PipelineID == "" || result.RunID == "" {
		return errors.New("result requires pipeline and run ids")
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	p := ResultPath(result.PipelineID, result.RunID)
	if err := s.objects.Put(ctx, p, data); err != nil {
		return err
	}
	s.logger.Debug("archived execution result",
		zap.String("pipeline_id", result.PipelineID),
		zap.String("run_id", result.RunID),
		zap.Int("size_bytes", len(data)))
	return nil
}

// LoadResult fetches an archived result.
func (s *ResultStore) LoadResult(ctx context.Context, pipelineID, runID string) (*engine.Result, error) {
	data, err := s.objects.Get(ctx, ResultPath(pipelineID, runID))
	if err != nil {
		return nil, err
	}
	var result engine.Result
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse archived result: %w", err)
	}
	return &result, nil
}
