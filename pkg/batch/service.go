// Package batch provides a NATS JetStream service that executes batch
// requests through the bounded pool. It pulls requests from a stream,
// runs every item with the request's concurrency limit, and publishes one
// result message per batch once all items have settled.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wehubfusion/Talos/internal/tracing"
	apperrors "github.com/wehubfusion/Talos/pkg/errors"
	"github.com/wehubfusion/Talos/pkg/pool"
)

// ItemProcessor defines the interface for batch item processing
// implementations. Implementations hold the business logic for a single
// item; the service takes care of fan-out, ordering, and reporting.
type ItemProcessor interface {
	ProcessItem(ctx context.Context, item json.RawMessage, index int) (json.RawMessage, error)
}

// Service pulls batch requests from a JetStream stream and executes them
// through pool.Run. Each request is an independent run: its items fan out
// up to the request's limit, and the batch result is published to the
// configured result subject after every item has settled.
type Service struct {
	conn            *nats.Conn
	js              nats.JetStreamContext
	processor       ItemProcessor
	stream          string
	consumer        string
	config          *Config
	logger          *zap.Logger
	tracer          trace.Tracer
	tracingShutdown func(context.Context) error
	sentryEnabled   bool
}

// NewService creates a Service bound to a connected NATS client.
// The processor must implement the ItemProcessor interface.
// Tuning (default concurrency, pull batch size, result subject) comes
// from LoadConfig.
// tracingConfig is optional - if nil, no tracing will be set up.
// Returns an error if any of the parameters are invalid.
func NewService(conn *nats.Conn, processor ItemProcessor, stream, consumer string, logger *zap.Logger, tracingConfig *TracingConfig) (*Service, error) {
	if conn == nil {
		return nil, errors.New("connection cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream name cannot be empty")
	}
	if consumer == "" {
		return nil, errors.New("consumer name cannot be empty")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	if err := ensureStream(js, stream, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure stream '%s' exists: %w", stream, err)
	}

	config := LoadConfig()
	logger.Info("Batch service configuration loaded", zap.String("config", config.String()))

	service := &Service{
		conn:      conn,
		js:        js,
		processor: processor,
		stream:    stream,
		consumer:  consumer,
		config:    config,
		logger:    logger,
		tracer:    otel.Tracer("talos/batch"),
	}

	if config.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: config.SentryDSN}); err != nil {
			logger.Warn("Failed to initialize Sentry, continuing without failure reporting", zap.Error(err))
		} else {
			service.sentryEnabled = true
		}
	}

	if tracingConfig != nil {
		ctx := context.Background()
		shutdown, err := tracing.Setup(ctx, tracingConfig.toInternalConfig(), logger)
		if err != nil {
			logger.Warn("Failed to setup tracing, continuing without tracing", zap.Error(err))
		} else {
			service.tracingShutdown = shutdown
			logger.Info("Tracing setup complete",
				zap.String("service", tracingConfig.ServiceName),
				zap.String("endpoint", tracingConfig.OTLPEndpoint))
		}
	}

	return service, nil
}

// ensureStream creates the JetStream stream if it doesn't exist, or validates it exists
func ensureStream(js nats.JetStreamContext, streamName string, logger *zap.Logger) error {
	streamInfo, err := js.StreamInfo(streamName)
	if err != nil {
		if errors.Is(err, nats.ErrStreamNotFound) {
			logger.Info("Creating JetStream stream", zap.String("stream", streamName))

			streamConfig := &nats.StreamConfig{
				Name:     streamName,
				Subjects: []string{fmt.Sprintf("%s.*", streamName)},
				Storage:  nats.FileStorage,
				MaxAge:   24 * time.Hour,
				MaxMsgs:  100000,
				Replicas: 1,
			}

			if _, err := js.AddStream(streamConfig); err != nil {
				return fmt.Errorf("failed to create stream '%s': %w", streamName, err)
			}

			logger.Info("Successfully created JetStream stream",
				zap.String("stream", streamName),
				zap.Strings("subjects", streamConfig.Subjects))
		} else {
			return fmt.Errorf("failed to get stream info for '%s': %w", streamName, err)
		}
	} else {
		logger.Info("JetStream stream already exists",
			zap.String("stream", streamName),
			zap.Uint64("messages", streamInfo.State.Msgs),
			zap.Int("consumers", streamInfo.State.Consumers))
	}

	return nil
}

// Close gracefully shuts down the service and cleans up tracing and
// failure reporting. This should be called when the service is no longer needed.
func (s *Service) Close() error {
	if s.sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.tracingShutdown(ctx); err != nil {
			s.logger.Error("Error shutting down tracing", zap.Error(err))
			return err
		}
		s.logger.Info("Tracing shutdown complete")
	}
	return nil
}

// Run starts pulling and executing batch requests. It blocks until the
// context is cancelled. Returns an error only on failures that prevent
// the service from continuing.
func (s *Service) Run(ctx context.Context) error {
	subject := fmt.Sprintf("%s.request", s.stream)
	sub, err := s.js.PullSubscribe(subject, s.consumer)
	if err != nil {
		return fmt.Errorf("failed to subscribe to '%s': %w", subject, err)
	}

	s.logger.Info("Batch service started",
		zap.String("stream", s.stream),
		zap.String("consumer", s.consumer),
		zap.Int("batchSize", s.config.BatchSize))

	backoffDelay := 100 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutting down batch service...")
			return nil
		default:
			msgs, err := sub.Fetch(s.config.BatchSize, nats.Context(ctx))
			if err != nil {
				if ctx.Err() != nil {
					s.logger.Debug("Fetch stopped due to context cancellation")
					return nil
				}
				if errors.Is(err, nats.ErrTimeout) {
					// No requests available, normal behavior
					continue
				}
				s.logger.Error("Error fetching batch requests", zap.Error(err))
				// Exponential backoff for errors
				time.Sleep(backoffDelay)
				if backoffDelay < maxBackoff {
					backoffDelay *= 2
				}
				continue
			}

			// Reset backoff on successful fetch
			backoffDelay = 100 * time.Millisecond

			for _, msg := range msgs {
				s.handleRequest(ctx, msg)
			}
		}
	}
}

// handleRequest executes one batch request and publishes its result.
func (s *Service) handleRequest(ctx context.Context, msg *nats.Msg) {
	req, err := ParseRequest(msg.Data)
	if err != nil {
		s.logger.Error("Discarding malformed batch request", zap.Error(err))
		// A malformed request can never succeed, do not redeliver
		if termErr := msg.Term(); termErr != nil {
			s.logger.Error("Error terminating malformed request", zap.Error(termErr))
		}
		return
	}

	runID := uuid.NewString()

	ctx, span := s.tracer.Start(ctx, "batch.handleRequest",
		trace.WithAttributes(
			attribute.String("batch.id", req.BatchID),
			attribute.String("run.id", runID),
			attribute.Int("batch.items", len(req.Items)),
			attribute.String("stream", s.stream),
			attribute.String("consumer", s.consumer),
		))
	defer span.End()

	limit := req.Limit
	if limit == 0 {
		limit = s.config.MaxConcurrent
	}

	s.logger.Info("Executing batch",
		zap.String("batchID", req.BatchID),
		zap.String("runID", runID),
		zap.Int("items", len(req.Items)),
		zap.Int("limit", limit))

	start := time.Now()
	outputs, runErr := pool.Run(ctx, req.Items, limit, s.operation(),
		pool.WithLogger(s.logger),
		pool.WithTracer(s.tracer))
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Int64("batch.duration_ms", elapsed.Milliseconds()))

	var result *Result
	switch {
	case runErr == nil:
		span.SetStatus(codes.Ok, "Batch completed")
		result = newSuccessResult(req.BatchID, runID, outputs, elapsed.Milliseconds())
		s.logger.Info("Batch completed",
			zap.String("batchID", req.BatchID),
			zap.String("runID", runID),
			zap.Duration("elapsed", elapsed))

	default:
		agg, ok := apperrors.AsAggregate(runErr)
		if !ok {
			// Invalid limit or items, nothing was executed
			span.RecordError(runErr)
			span.SetStatus(codes.Error, runErr.Error())
			s.logger.Error("Batch rejected",
				zap.String("batchID", req.BatchID),
				zap.String("runID", runID),
				zap.Error(runErr))
			if termErr := msg.Term(); termErr != nil {
				s.logger.Error("Error terminating rejected request", zap.Error(termErr))
			}
			return
		}

		span.RecordError(agg)
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d items failed", len(agg.Failures), agg.Total))
		result = newFailureResult(req.BatchID, runID, agg, elapsed.Milliseconds())
		s.logger.Error("Batch finished with failures",
			zap.String("batchID", req.BatchID),
			zap.String("runID", runID),
			zap.Int("failed", len(agg.Failures)),
			zap.Int("total", agg.Total),
			zap.Duration("elapsed", elapsed))
		s.reportAggregate(req.BatchID, runID, agg)
	}

	if err := s.publishResult(result); err != nil {
		s.logger.Error("Error publishing batch result",
			zap.String("batchID", req.BatchID),
			zap.String("runID", runID),
			zap.Error(err))
		// Redeliver so the result gets another chance to publish
		if nakErr := msg.Nak(); nakErr != nil {
			s.logger.Error("Error naking request after publish failure", zap.Error(nakErr))
		}
		return
	}

	if ackErr := msg.Ack(); ackErr != nil {
		s.logger.Error("Error acking batch request",
			zap.String("batchID", req.BatchID),
			zap.Error(ackErr))
	}
}

// operation adapts the configured processor to a pool operation.
func (s *Service) operation() pool.Operation[json.RawMessage, json.RawMessage] {
	return func(ctx context.Context, item json.RawMessage, index int) (json.RawMessage, error) {
		return s.processor.ProcessItem(ctx, item, index)
	}
}

// publishResult publishes the batch result to the configured result subject.
func (s *Service) publishResult(result *Result) error {
	payload, err := result.Marshal()
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if _, err := s.js.Publish(s.config.ResultSubject, payload); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}
	return nil
}

// reportAggregate forwards an aggregate failure to Sentry when configured.
func (s *Service) reportAggregate(batchID, runID string, agg *apperrors.AggregateError) {
	if !s.sentryEnabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("batch_id", batchID)
		scope.SetTag("run_id", runID)
		scope.SetExtra("failed_indexes", agg.Indexes())
		sentry.CaptureException(agg)
	})
}
