// Package engine executes pipeline definitions: it compiles the graph,
// schedules nodes level by level, routes data between pins, runs the
// control-flow nodes and reports results and lifecycle events.
package engine

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/concurrency"
	"github.com/flowforge-io/flowforge/pkg/databus"
	"github.com/flowforge-io/flowforge/pkg/device"
	"github.com/flowforge-io/flowforge/pkg/errors"
	"github.com/flowforge-io/flowforge/pkg/events"
	"github.com/flowforge-io/flowforge/pkg/graph"
	"github.com/flowforge-io/flowforge/pkg/pipeline"
	"github.com/flowforge-io/flowforge/pkg/workerpool"
)

// Engine executes pipelines. It is safe for concurrent use; each call to
// Execute gets its own isolated execution context.
type Engine struct {
	cfg        Config
	logger     *zap.Logger
	devices    *device.Registry
	composites *CompositeRegistry
	events     *events.Publisher
	limiter    *concurrency.Limiter
	pool       *workerpool.Pool
	dispatcher *Dispatcher
	tracer     trace.Tracer

	metadataOpt device.MetadataProvider
	telemetry   *databus.Bus

	mu     sync.Mutex
	active map[string]context.CancelFunc

	pipelinesCompleted atomic.Int64
	pipelinesFailed    atomic.Int64
	nodesExecuted      atomic.Int64

	closeOnce sync.Once
}

// Metrics is a snapshot of engine activity counters.
type Metrics struct {
	PipelinesCompleted int64
	PipelinesFailed    int64
	NodesExecuted      int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Defaults to a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithDevices sets the device registry function nodes resolve against.
func WithDevices(r *device.Registry) Option {
	return func(e *Engine) { e.devices = r }
}

// WithComposites sets the composite registry.
func WithComposites(cr *CompositeRegistry) Option {
	return func(e *Engine) { e.composites = cr }
}

// WithPublisher sets the lifecycle event publisher. Without one the
// engine runs silently; ExecuteStream still works.
func WithPublisher(p *events.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithMetadata sets the provider the router uses to validate function
// node inputs against their registered pins.
func WithMetadata(m device.MetadataProvider) Option {
	return func(e *Engine) { e.metadataOpt = m }
}

// WithTelemetry publishes each completed node's outputs to the bus under
// "pipeline.<context id>.<node id>".
func WithTelemetry(bus *databus.Bus) Option {
	return func(e *Engine) { e.telemetry = bus }
}

// New builds an engine from the config and options.
func New(cfg Config, opts ...Option) *Engine {
	e := &Engine{
		cfg:    cfg.Normalize(),
		logger: zap.NewNop(),
		active: make(map[string]context.CancelFunc),
		tracer: otel.Tracer("flowforge/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.devices == nil {
		e.devices = device.NewRegistry()
	}
	if e.composites == nil {
		e.composites = NewCompositeRegistry()
	}
	if e.events == nil {
		e.events = events.NewPublisher(e.logger)
	}
	e.limiter = concurrency.NewLimiter(e.cfg.MaxConcurrentPipelines, e.cfg.CapacityPolicy)
	e.pool = workerpool.New(e.cfg.Compute, e.logger)

	router := NewRouter(e.metadataOpt)
	e.dispatcher = NewDispatcher(router, e.devices, e.pool, e.logger)
	e.dispatcher.composites = NewInvoker(e, e.composites, e.cfg.MaxCompositeDepth)
	return e
}

// Devices exposes the engine's device registry for registration.
func (e *Engine) Devices() *device.Registry { return e.devices }

// Composites exposes the composite registry for registration.
func (e *Engine) Composites() *CompositeRegistry { return e.composites }

// Publisher exposes the lifecycle event publisher for subscription.
func (e *Engine) Publisher() *events.Publisher { return e.events }

// Execute runs a pipeline definition to completion. Graph and node
// failures are reported in the Result, not the error return; the error
// return is reserved for capacity rejection and a nil definition.
func (e *Engine) Execute(ctx context.Context, def *pipeline.Definition) (*Result, error) {
	if def == nil {
		return nil, errors.NewValidationError("", "", "nil pipeline definition")
	}
	return e.execute(ctx, def, uuid.NewString())
}

func (e *Engine) execute(ctx context.Context, def *pipeline.Definition, runID string) (*Result, error) {
	if err := e.limiter.Acquire(ctx); err != nil {
		if err == concurrency.ErrAtCapacity {
			return nil, &errors.TooManyConcurrentPipelinesError{Limit: e.limiter.Limit()}
		}
		return nil, err
	}
	defer e.limiter.Release()

	pipelineID := def.ID
	if pipelineID == "" {
		pipelineID = runID
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.active[runID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.active, runID)
		e.mu.Unlock()
	}()

	runCtx, span := e.tracer.Start(runCtx, "pipeline.execute",
		trace.WithAttributes(
			attribute.String("pipeline.id", pipelineID),
			attribute.String("pipeline.run_id", runID),
			attribute.Int("pipeline.node_count", len(def.Nodes)),
		))
	defer span.End()

	start := time.Now()
	result := &Result{PipelineID: pipelineID, RunID: runID}

	dep, err := graph.Build(def.Nodes, def.Edges)
	if err != nil {
		e.logger.Error("pipeline graph rejected",
			zap.String("pipeline_id", pipelineID),
			zap.Error(err))
		return e.finish(result, span, start, err), nil
	}

	ectx := NewContext(pipelineID, def.Variables.Global)
	ectx.runID = runID

	started := events.New(events.TypePipelineStarted, pipelineID)
	started.RunID = runID
	started.NodeCount = dep.NodeCount()
	e.events.Publish(started)
	e.logger.Info("pipeline started",
		zap.String("pipeline_id", pipelineID),
		zap.String("run_id", runID),
		zap.Int("nodes", dep.NodeCount()))

	r := &run{
		engine: e,
		dep:    dep,
		def:    def,
		ectx:   ectx,
		events: e.events,
		times:  make(map[string]time.Duration),
	}
	_, runErr := r.runLevels(runCtx, dep.Levels())

	result.DataStore, result.Variables = ectx.SnapshotData()
	result.NodeStatuses = ectx.SnapshotStatus()
	result.NodesExecuted = r.executed
	result.ExecutionTimes = r.times
	return e.finish(result, span, start, runErr), nil
}

// finish seals the result, publishes the terminal event and logs.
func (e *Engine) finish(result *Result, span trace.Span, start time.Time, err error) *Result {
	result.TotalTime = time.Since(start)
	e.nodesExecuted.Add(int64(len(result.NodesExecuted)))
	if err == nil {
		e.pipelinesCompleted.Add(1)
		result.Status = StatusResultCompleted
		done := events.New(events.TypePipelineCompleted, result.PipelineID)
		done.RunID = result.RunID
		done.NodesExecuted = len(result.NodesExecuted)
		done.ExecutionTimeMs = result.TotalTime.Milliseconds()
		e.events.Publish(done)
		e.logger.Info("pipeline completed",
			zap.String("pipeline_id", result.PipelineID),
			zap.Int("nodes_executed", len(result.NodesExecuted)),
			zap.Duration("elapsed", result.TotalTime))
		return result
	}

	e.pipelinesFailed.Add(1)
	result.Status = StatusResultError
	result.Error = errors.Serialize(err)
	var nee *errors.NodeExecutionError
	if stderrors.As(err, &nee) {
		result.FailedNode = nee.NodeID
	}
	if span != nil {
		span.RecordError(err)
	}

	ev := events.New(events.TypePipelineError, result.PipelineID)
	ev.RunID = result.RunID
	ev.NodeID = result.FailedNode
	ev.ErrorMessage = err.Error()
	ev.ErrorType = errors.TypeName(err)
	ev.ErrorDetail = result.Error
	e.events.Publish(ev)
	e.logger.Error("pipeline failed",
		zap.String("pipeline_id", result.PipelineID),
		zap.String("failed_node", result.FailedNode),
		zap.Error(err))
	return result
}

// ExecuteStream runs the pipeline and returns a channel of its lifecycle
// events plus a channel that yields the final result. The event channel
// closes after the terminal event. Filtering keys on the run id, so
// concurrent runs of the same definition never cross-deliver; nested
// composite events carry the parent's run id and are included.
func (e *Engine) ExecuteStream(ctx context.Context, def *pipeline.Definition) (<-chan events.Event, <-chan *Result, error) {
	if def == nil {
		return nil, nil, errors.NewValidationError("", "", "nil pipeline definition")
	}
	runID := uuid.NewString()
	stream := make(chan events.Event, e.cfg.EventBufferSize)
	resultCh := make(chan *Result, 1)

	var closeStream sync.Once
	sub := e.events.Subscribe(events.TypeAll, func(ev events.Event) error {
		if ev.RunID != runID {
			return nil
		}
		select {
		case stream <- ev:
		default:
			// Slow consumer: drop rather than stall other subscribers.
		}
		if ev.IsTerminal() {
			closeStream.Do(func() { close(stream) })
		}
		return nil
	})

	go func() {
		result, err := e.execute(ctx, def, runID)
		if err != nil {
			result = &Result{
				PipelineID: def.ID,
				RunID:      runID,
				Status:     StatusResultError,
				Error:      errors.Serialize(err),
			}
			closeStream.Do(func() { close(stream) })
		}
		sub.Unsubscribe()
		resultCh <- result
	}()
	return stream, resultCh, nil
}

// Stop cancels a running pipeline by run id. Returns false when the run
// is not active.
func (e *Engine) Stop(runID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.active[runID]
	if ok {
		cancel()
	}
	return ok
}

// ActiveRuns lists the run ids currently executing, sorted.
func (e *Engine) ActiveRuns() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// CapacityMetrics reports limiter activity.
func (e *Engine) CapacityMetrics() concurrency.Metrics { return e.limiter.Snapshot() }

// Metrics reports cumulative run counters.
func (e *Engine) Metrics() Metrics {
	return Metrics{
		PipelinesCompleted: e.pipelinesCompleted.Load(),
		PipelinesFailed:    e.pipelinesFailed.Load(),
		NodesExecuted:      e.nodesExecuted.Load(),
	}
}

// PoolStats reports worker pool activity: tasks processed, failed and
// timed out.
func (e *Engine) PoolStats() (processed, failed, timedOut int64) { return e.pool.Stats() }

// Close shuts down the worker pool and the event publisher. Running
// pipelines are cancelled.
func (e *Engine) Close() {
	e.closeOnce.Do(func() {
		e.mu.Lock()
		for _, cancel := range e.active {
			cancel()
		}
		e.mu.Unlock()
		e.pool.Close()
		e.events.Close()
	})
}
