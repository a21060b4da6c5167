package eventsink

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/flowforge-io/flowforge/pkg/events"
)

// SentrySink reports pipeline failures to Sentry. Non-error events are
// ignored.
type SentrySink struct {
	hub          *sentry.Hub
	flushTimeout time.Duration
}

// NewSentrySink initializes the Sentry SDK and returns the sink.
func NewSentrySink(dsn, environment string) (*SentrySink, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: environment,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}
	return &SentrySink{
		hub:          sentry.CurrentHub(),
		flushTimeout: 2 * time.Second,
	}, nil
}

// Handle captures PipelineError events with pipeline and node tags.
func (s *SentrySink) Handle(ev events.Event) error {
	if ev.Type != events.TypePipelineError {
		return nil
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("pipeline_id", ev.PipelineID)
		if ev.NodeID != "" {
			scope.SetTag("node_id", ev.NodeID)
		}
		if ev.ErrorType != "" {
			scope.SetTag("error_type", ev.ErrorType)
		}
		if ev.ErrorDetail != nil {
			scope.SetContext("error_chain", map[string]interface{}{
				"type":    ev.ErrorDetail.Type,
				"message": ev.ErrorDetail.Message,
			})
		}
		s.hub.CaptureMessage(ev.ErrorMessage)
	})
	return nil
}

// Close flushes buffered reports.
func (s *SentrySink) Close() {
	s.hub.Flush(s.flushTimeout)
}
