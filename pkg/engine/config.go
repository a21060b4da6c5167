package engine

import (
	"runtime"
	"time"

	"github.com/flowforge-io/flowforge/pkg/concurrency"
	"github.com/flowforge-io/flowforge/pkg/workerpool"
)

// Config tunes an Engine. The zero value is usable; Normalize fills in
// the defaults.
type Config struct {
	// MaxConcurrentPipelines caps simultaneous pipeline executions.
	MaxConcurrentPipelines int

	// CapacityPolicy decides what happens when the cap is reached:
	// Block queues the caller, Reject fails fast with
	// TooManyConcurrentPipelinesError.
	CapacityPolicy concurrency.Policy

	// MaxParallelPerLevel caps concurrent nodes within one schedule level.
	// Zero means the whole level runs at once.
	MaxParallelPerLevel int

	// FailFast cancels a level's remaining nodes as soon as one fails.
	// Off by default: level-mates run to completion and the first error
	// is reported.
	FailFast bool

	// MaxCompositeDepth bounds composite nesting.
	MaxCompositeDepth int

	// Compute configures the worker pool used by nodes flagged for
	// compute offload.
	Compute workerpool.Config

	// EventBufferSize is the per-subscriber buffer of the stream returned
	// by ExecuteStream.
	EventBufferSize int
}

func (c Config) Normalize() Config {
	if c.MaxConcurrentPipelines <= 0 {
		c.MaxConcurrentPipelines = runtime.NumCPU() * 4
	}
	if c.MaxCompositeDepth <= 0 {
		c.MaxCompositeDepth = 5
	}
	if c.Compute.Workers <= 0 {
		c.Compute.Workers = runtime.NumCPU()
	}
	if c.Compute.TaskTimeout <= 0 {
		c.Compute.TaskTimeout = 30 * time.Second
	}
	if c.Compute.QueueSize <= 0 {
		c.Compute.QueueSize = 64
	}
	if c.EventBufferSize <= 0 {
		c.EventBufferSize = 64
	}
	return c
}
