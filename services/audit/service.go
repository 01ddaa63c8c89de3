package audit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/upb/enforcement-gate/internal/observability"
	"github.com/upb/enforcement-gate/models"
	"github.com/upb/enforcement-gate/repositories"
	"github.com/upb/enforcement-gate/services"
	"go.uber.org/zap"
)

const (
	modeAsync = "async"
	modeSync  = "sync"
)

// WriteResult reports what happened to a record. Callers on the decision path
// inspect or discard it; it never changes a decision.
type WriteResult struct {
	Queued bool  // handed to a worker; Err is always nil in that case
	Err    error // synchronous write failure
}

// AuditService appends audit records to the sink. With workers it buffers
// records on a channel; when the buffer is full or the service is not running
// it falls back to a bounded synchronous write so no record is dropped silently.
type AuditService struct {
	auditRepo    repositories.AuditRepository
	logger       *zap.Logger
	metrics      *observability.Metrics
	eventChan    chan *models.AuditRecord
	workerCount  int
	bufferSize   int
	writeTimeout time.Duration
	wg           sync.WaitGroup
	started      bool
	stopped      bool
	mu           sync.RWMutex

	written atomic.Int64
	failed  atomic.Int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize   int           // Size of the record buffer channel
	WorkerCount  int           // Number of concurrent workers, 0 for synchronous writes
	WriteTimeout time.Duration // Upper bound on a single sink write
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:   1000,
		WorkerCount:  4,
		WriteTimeout: 5 * time.Second,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(auditRepo repositories.AuditRepository, logger *zap.Logger, config Config, metrics *observability.Metrics) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = DefaultConfig().WriteTimeout
	}

	return &AuditService{
		auditRepo:    auditRepo,
		logger:       logger,
		metrics:      metrics,
		eventChan:    make(chan *models.AuditRecord, config.BufferSize),
		workerCount:  config.WorkerCount,
		bufferSize:   config.BufferSize,
		writeTimeout: config.WriteTimeout,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop gracefully stops the audit service.
// Waits for buffered records to be written; records arriving afterwards are written synchronously.
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("audit service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service already stopped")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// Record appends rec to the trail. It never returns an error to the caller;
// failures are logged, counted, and reported in the result.
func (s *AuditService) Record(ctx context.Context, rec *models.AuditRecord) WriteResult {
	if rec == nil {
		return WriteResult{Err: services.NewDomainError(services.ErrorTypeValidation, "audit record is nil", nil)}
	}

	if s.enqueue(rec) {
		return WriteResult{Queued: true}
	}
	return WriteResult{Err: s.writeSync(ctx, rec)}
}

// RecordCorrection appends a CORRECTION record referencing originalID
func (s *AuditService) RecordCorrection(ctx context.Context, originalID uuid.UUID, rec *models.AuditRecord) WriteResult {
	if rec == nil {
		return WriteResult{Err: services.NewDomainError(services.ErrorTypeValidation, "audit record is nil", nil)}
	}
	return s.Record(ctx, rec.WithCorrection(originalID))
}

// enqueue hands rec to the workers without blocking
func (s *AuditService) enqueue(rec *models.AuditRecord) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.started || s.stopped || s.workerCount == 0 {
		return false
	}

	select {
	case s.eventChan <- rec:
		s.metrics.SetAuditQueueDepth(len(s.eventChan))
		return true
	default:
		s.logger.Warn("audit buffer full, writing synchronously",
			zap.String("action", string(rec.Action)),
			zap.String("tenant_id", rec.TenantID))
		return false
	}
}

// writeSync writes rec within the write timeout. The request context only
// contributes values; its cancellation must not lose the record.
func (s *AuditService) writeSync(ctx context.Context, rec *models.AuditRecord) error {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	err := s.append(writeCtx, rec, modeSync)
	if err != nil {
		return services.NewDomainError(services.ErrorTypeAuditWriteFailure, "audit record could not be persisted", err).
			WithDetail("record_id", rec.ID.String())
	}
	return nil
}

// worker processes records from the channel
func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("audit worker started", zap.Int("worker_id", id))

	for rec := range s.eventChan {
		s.metrics.SetAuditQueueDepth(len(s.eventChan))

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		_ = s.append(ctx, rec, modeAsync)
		cancel()
	}

	s.logger.Debug("audit worker stopped", zap.Int("worker_id", id))
}

func (s *AuditService) append(ctx context.Context, rec *models.AuditRecord, mode string) error {
	err := s.appendSafely(ctx, rec)
	s.metrics.AuditWrite(mode, err)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("AuditWriteFailure",
			zap.Error(err),
			zap.String("mode", mode),
			zap.String("record_id", rec.ID.String()),
			zap.String("action", string(rec.Action)),
			zap.String("outcome", string(rec.Outcome)),
			zap.String("tenant_id", rec.TenantID),
			zap.String("actor_id", rec.ActorID),
			zap.String("request_id", rec.RequestID))
		return err
	}
	s.written.Add(1)
	return nil
}

// appendSafely converts a panicking sink into a write error
func (s *AuditService) appendSafely(ctx context.Context, rec *models.AuditRecord) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panicked: %v", r)
		}
	}()
	return s.auditRepo.Append(ctx, rec)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Written:       s.written.Load(),
		Failed:        s.failed.Load(),
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Written       int64 `json:"written"`
	Failed        int64 `json:"failed"`
}
