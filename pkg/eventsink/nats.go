package eventsink

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/flowforge-io/flowforge/pkg/events"
)

// NATSConfig holds the connection settings for the NATS event sink.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name identifies this client on the server.
	Name string

	// SubjectPrefix is prepended to the event type to form the publish
	// subject, e.g. "pipeline.events" -> "pipeline.events.PipelineCompleted".
	SubjectPrefix string

	// MaxReconnects caps reconnection attempts; -1 means unlimited.
	MaxReconnects int

	// ReconnectWait is the delay between reconnection attempts.
	ReconnectWait time.Duration

	// Timeout bounds the initial connection.
	Timeout time.Duration

	// Token, or Username and Password, authenticate the client.
	Token    string
	Username string
	Password string
}

// DefaultNATSConfig returns settings suitable for a local server.
func DefaultNATSConfig(url string) NATSConfig {
	return NATSConfig{
		URL:           url,
		Name:          "flowforge-events",
		SubjectPrefix: "pipeline.events",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSSink broadcasts events as JSON on per-type subjects.
type NATSSink struct {
	conn    *nats.Conn
	cfg     NATSConfig
	logger  *zap.Logger
	ownConn bool
}

// NewNATSSink connects to NATS and returns a ready sink.
func NewNATSSink(ctx context.Context, cfg NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("NATS URL cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	} else if cfg.Username != "" && cfg.Password != "" {
		opts = append(opts, nats.UserInfo(cfg.Username, cfg.Password))
	}

	type result struct {
		conn *nats.Conn
		err  error
	}
	resultCh := make(chan result, 1)
	go func() {
		conn, err := nats.Connect(cfg.URL, opts...)
		resultCh <- result{conn: conn, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connection cancelled: %w", ctx.Err())
	case res := <-resultCh:
		if res.err != nil {
			return nil, fmt.Errorf("failed to connect to NATS: %w", res.err)
		}
		return &NATSSink{conn: res.conn, cfg: cfg, logger: logger, ownConn: true}, nil
	}
}

// WrapNATSConn builds a sink over an existing connection. Close leaves
// the connection open.
func WrapNATSConn(conn *nats.Conn, cfg NATSConfig, logger *zap.Logger) *NATSSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSSink{conn: conn, cfg: cfg, logger: logger}
}

// Handle publishes the event on "<prefix>.<type>".
func (s *NATSSink) Handle(ev events.Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subject := s.cfg.SubjectPrefix + "." + string(ev.Type)
	if err := s.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Connected reports whether the underlying connection is live.
func (s *NATSSink) Connected() bool {
	return s.conn != nil && s.conn.IsConnected()
}

// Close drains the connection if the sink owns it.
func (s *NATSSink) Close() error {
	if !s.ownConn || s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("error draining connection: %w", err)
	}
	return nil
}
