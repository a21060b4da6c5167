package eventsink

import (
	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/events"
)

// LogSink writes every lifecycle event to a zap logger.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Handle(ev events.Event) error {
	fields := []zap.Field{
		zap.String("pipeline_id", ev.PipelineID),
		zap.String("timestamp", ev.Timestamp),
	}
	if ev.NodeID != "" {
		fields = append(fields, zap.String("node_id", ev.NodeID))
	}
	switch ev.Type {
	case events.TypePipelineStarted:
		fields = append(fields, zap.Int("node_count", ev.NodeCount))
		s.logger.Info("pipeline started", fields...)
	case events.TypeNodeCompleted:
		fields = append(fields, zap.Int64("execution_time_ms", ev.ExecutionTimeMs))
		s.logger.Debug("node completed", fields...)
	case events.TypePipelineCompleted:
		fields = append(fields,
			zap.Int("nodes_executed", ev.NodesExecuted),
			zap.Int64("execution_time_ms", ev.ExecutionTimeMs))
		s.logger.Info("pipeline completed", fields...)
	case events.TypePipelineError:
		fields = append(fields,
			zap.String("error_type", ev.ErrorType),
			zap.String("error_message", ev.ErrorMessage))
		s.logger.Error("pipeline failed", fields...)
	default:
		s.logger.Debug(string(ev.Type), fields...)
	}
	return nil
}
