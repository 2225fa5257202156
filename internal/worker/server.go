package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/rasterkit/internal/config"
	"github.com/dunamismax/rasterkit/internal/domain"
	"github.com/dunamismax/rasterkit/internal/pipeline"
	"github.com/dunamismax/rasterkit/internal/queue"
	"github.com/dunamismax/rasterkit/internal/store"
	"github.com/dunamismax/rasterkit/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const outputPrefix = "outputs"

type Server struct {
	logger          *log.Logger
	server          *asynq.Server
	sem             chan struct{}
	localProcessor  *pipeline.Processor
	objectProcessor *pipeline.Processor
	webhookClient   webhookSender
	jobStore        store.JobStore
	usageStore      store.UsageStore
	metrics         *metrics
	tracer          trace.Tracer
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

// jobEvent is the body of job.completed and job.failed deliveries.
type jobEvent struct {
	JobID       string            `json:"job_id"`
	Status      string            `json:"status"`
	SourceType  string            `json:"source_type"`
	ObjectKey   string            `json:"object_key"`
	Step        domain.FilterStep `json:"step"`
	RequestedAt time.Time         `json:"requested_at"`
	FinishedAt  time.Time         `json:"finished_at"`
	Output      *pipeline.Output  `json:"output,omitempty"`
	Error       string            `json:"error,omitempty"`
}

func NewServer(
	logger *log.Logger,
	cfg config.Config,
	objectStorage pipeline.ObjectStorage,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	s, err := newServer(logger, cfg, objectStorage, webhookClient, jobStore, usageStore)
	if err != nil {
		return nil, err
	}

	s.server = asynq.NewServer(
		cfg.Queue.RedisClientOpt(),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				cfg.Queue.Name: 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
			}),
		},
	)
	return s, nil
}

func newServer(
	logger *log.Logger,
	cfg config.Config,
	objectStorage pipeline.ObjectStorage,
	webhookClient webhookSender,
	jobStore store.JobStore,
	usageStore store.UsageStore,
) (*Server, error) {
	if objectStorage == nil {
		return nil, errors.New("storage client is required")
	}

	objectProcessor, err := pipeline.NewObjectStoreProcessor(
		pipeline.ObjectStoreFetcher{Storage: objectStorage},
		pipeline.ObjectStoreEmitter{Storage: objectStorage, OutputPrefix: outputPrefix},
		cfg.Filter.Workers,
	)
	if err != nil {
		return nil, fmt.Errorf("initialize object-store processor: %w", err)
	}

	if usageStore == nil {
		if jobAndUsageStore, ok := jobStore.(store.UsageStore); ok {
			usageStore = jobAndUsageStore
		}
	}

	return &Server{
		logger:          logger,
		sem:             make(chan struct{}, max(1, cfg.Worker.MaxActiveJobs)),
		localProcessor:  pipeline.NewLocalProcessor(cfg.Worker.LocalOutputDir, cfg.Filter.Workers),
		objectProcessor: objectProcessor,
		webhookClient:   webhookClient,
		jobStore:        jobStore,
		usageStore:      usageStore,
		metrics:         newMetrics(),
		tracer:          otel.Tracer("rasterkit/worker"),
	}, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeFilterRaster, s.handleFilterRaster)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	s.server.Shutdown()
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleFilterRaster(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseFilterRasterPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.filter_raster", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("job.id", payload.JobID),
		attribute.String("job.source_type", payload.SourceType),
		attribute.String("filter.name", payload.Step.Filter),
		attribute.Int("filter.length", payload.Step.Length),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(payload.Step.Filter, outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(payload.Step.Filter, outcome).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf(
		"Working... job_id=%s source_type=%s filter=%s length=%d object_key=%s",
		payload.JobID,
		payload.SourceType,
		payload.Step.Filter,
		payload.Step.Length,
		payload.ObjectKey,
	)

	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusProcessing)

	computeStarted := time.Now()
	result, err := s.processorFor(payload.SourceType).Process(ctx, pipeline.Request{
		JobID:      payload.JobID,
		SourceType: payload.SourceType,
		ObjectKey:  payload.ObjectKey,
		OutputKey:  payload.OutputKey,
		Step:       payload.Step,
	})
	if err != nil {
		s.updateJobStatus(ctx, payload.JobID, domain.JobStatusFailed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "filter failed")
		_ = s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, jobEvent{
			JobID:       payload.JobID,
			Status:      domain.JobStatusFailed,
			SourceType:  payload.SourceType,
			ObjectKey:   payload.ObjectKey,
			Step:        payload.Step,
			RequestedAt: payload.RequestedAt,
			FinishedAt:  time.Now().UTC(),
			Error:       err.Error(),
		})
		if errors.Is(err, pipeline.ErrInvalidFilterStep) ||
			errors.Is(err, pipeline.ErrUnsupportedSourceType) ||
			errors.Is(err, pipeline.ErrInvalidOutputKey) {
			return fmt.Errorf("run filter: %w: %w", err, asynq.SkipRetry)
		}
		return fmt.Errorf("run filter: %w", err)
	}

	s.logger.Printf("Filtered job_id=%s path=%s bytes=%d", payload.JobID, result.Output.Path, result.Output.Bytes)
	s.updateJobStatus(ctx, payload.JobID, domain.JobStatusSucceeded)
	s.recordUsage(ctx, payload.JobID, payload.Step, result, time.Since(computeStarted))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, jobEvent{
		JobID:       payload.JobID,
		Status:      domain.JobStatusSucceeded,
		SourceType:  payload.SourceType,
		ObjectKey:   payload.ObjectKey,
		Step:        payload.Step,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
		Output:      &result.Output,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusSucceeded
	span.SetStatus(codes.Ok, "filtered")
	return nil
}

func (s *Server) processorFor(sourceType string) *pipeline.Processor {
	if strings.EqualFold(sourceType, domain.SourceTypeLocalFile) {
		return s.localProcessor
	}
	return s.objectProcessor
}

func (s *Server) updateJobStatus(ctx context.Context, jobID, status string) {
	if s.jobStore == nil {
		return
	}
	if _, err := s.jobStore.UpdateStatus(ctx, jobID, status); err != nil {
		s.logger.Printf("job status update failed job_id=%s status=%s err=%v", jobID, status, err)
	}
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.FilterRasterPayload, event string, body jobEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%s event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}

func (s *Server) recordUsage(ctx context.Context, jobID string, step domain.FilterStep, result pipeline.Result, compute time.Duration) {
	computeTimeMS := max(1, compute.Milliseconds())
	usage := domain.UsageLog{
		UserID:          s.lookupUserID(ctx, jobID),
		JobID:           jobID,
		Filter:          step.Filter,
		PixelsProcessed: result.Pixels(),
		BytesIn:         int64(result.SourceBytes),
		BytesOut:        int64(result.Output.Bytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}

	s.metrics.pixelsProcessedTotal.Add(float64(usage.PixelsProcessed))
	s.metrics.bytesInTotal.Add(float64(usage.BytesIn))
	s.metrics.bytesOutTotal.Add(float64(usage.BytesOut))
	s.metrics.computeTimeMSTotal.Add(float64(computeTimeMS))

	if s.usageStore == nil {
		return
	}
	if err := s.usageStore.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%s err=%v", jobID, err)
	}
}

func (s *Server) lookupUserID(ctx context.Context, jobID string) string {
	if s.jobStore == nil {
		return "anonymous"
	}
	job, ok, err := s.jobStore.Get(ctx, jobID)
	if err != nil {
		s.logger.Printf("usage lookup failed job_id=%s err=%v", jobID, err)
		return "anonymous"
	}
	if !ok || strings.TrimSpace(job.UserID) == "" {
		return "anonymous"
	}
	return job.UserID
}
