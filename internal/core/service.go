package core

import (
	"context"
	"time"

	"krakefactory/internal/infra/persistence/memory"
	"krakefactory/pkg/domain"
)

// Operation names reported to loggers, metrics and tracers.
const (
	OpResolveBoard   = "resolve_board"
	OpSubmitTestRun  = "submit_test_run"
	OpListSummaries  = "list_summaries"
	OpGetBoardDetail = "get_board_detail"
	OpPing           = "ping"
)

// Service is the entry point used by the HTTP and CLI adapters. It composes the
// resolver, writer and reader over one explicitly constructed store.
type Service struct {
	store             domain.PersistentStore
	resolver          *BoardResolver
	writer            *TestRunWriter
	reader            *TestRunReader
	logger            Logger
	metrics           MetricsRecorder
	tracer            Tracer
	clock             Clock
	readerConcurrency int
}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger; nil keeps the no-op logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder sets the metrics sink.
func WithMetricsRecorder(rec MetricsRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.metrics = rec
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// WithClock sets the clock used to time operations.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithReaderConcurrency bounds the parallel child fetches of a detail read.
func WithReaderConcurrency(n int) Option {
	return func(s *Service) {
		s.readerConcurrency = n
	}
}

// NewService wires the core components over store.
func NewService(store domain.PersistentStore, opts ...Option) *Service {
	s := &Service{
		store:   store,
		logger:  noopLogger{},
		metrics: noopMetrics{},
		tracer:  noopTracer{},
		clock:   ClockFunc(time.Now),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = NewBoardResolver(s.logger)
	s.writer = NewTestRunWriter(store, s.resolver)
	s.reader = NewTestRunReader(store, s.readerConcurrency)
	return s
}

// Store returns the underlying persistence implementation.
func (s *Service) Store() domain.PersistentStore {
	return s.store
}

// ResolveOrCreateBoard resolves board in a transaction of its own.
func (s *Service) ResolveOrCreateBoard(ctx context.Context, board domain.Board) (int64, error) {
	var id int64
	err := s.run(ctx, OpResolveBoard, func(ctx context.Context) error {
		return s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
			var err error
			id, err = s.resolver.Resolve(ctx, tx, board)
			return err
		})
	})
	if err != nil {
		return 0, asStorageError(OpResolveBoard, err)
	}
	return id, nil
}

// SubmitTestRun stores a complete submission atomically.
func (s *Service) SubmitTestRun(ctx context.Context, sub domain.Submission) (domain.SubmitResult, error) {
	var res domain.SubmitResult
	err := s.run(ctx, OpSubmitTestRun, func(ctx context.Context) error {
		var err error
		res, err = s.writer.Submit(ctx, sub)
		return err
	})
	if err == nil {
		s.logger.Info("test run stored", "serial_number", domain.NormalizeSerial(sub.Board.SerialNumber),
			"board_id", res.BoardID, "testrun_id", res.TestRunID)
	}
	return res, err
}

// ListSummaries returns the inventory projection, most recent run first.
func (s *Service) ListSummaries(ctx context.Context) ([]domain.SummaryRow, error) {
	var rows []domain.SummaryRow
	err := s.run(ctx, OpListSummaries, func(ctx context.Context) error {
		var err error
		rows, err = s.reader.ListSummaries(ctx)
		return err
	})
	return rows, err
}

// GetBoardDetail returns the full history of the board with serial.
func (s *Service) GetBoardDetail(ctx context.Context, serial string) (domain.BoardDetail, error) {
	var detail domain.BoardDetail
	err := s.run(ctx, OpGetBoardDetail, func(ctx context.Context) error {
		var err error
		detail, err = s.reader.GetBoardDetail(ctx, serial)
		return err
	})
	return detail, err
}

// Ping checks that the store is reachable.
func (s *Service) Ping(ctx context.Context) error {
	return s.run(ctx, OpPing, func(ctx context.Context) error {
		if err := s.store.Ping(ctx); err != nil {
			return asStorageError(OpPing, err)
		}
		return nil
	})
}

func (s *Service) run(ctx context.Context, op string, fn func(context.Context) error) error {
	ctx, span := s.tracer.Start(ctx, op)
	started := s.clock.Now()
	err := fn(ctx)
	elapsed := s.clock.Now().Sub(started)
	s.metrics.Observe(ctx, op, err == nil, elapsed)
	span.End(err)

	switch {
	case err == nil:
		s.logger.Debug("operation completed", "operation", op, "duration", elapsed)
	case domain.IsValidation(err):
		s.logger.Warn("operation rejected", "operation", op, "error", err)
	default:
		s.logger.Error("operation failed", "operation", op, "duration", elapsed, "error", err)
	}
	return err
}

// NewInMemoryService creates a service over a fresh in-memory store.
func NewInMemoryService(opts ...Option) *Service {
	return NewService(memory.NewStore(), opts...)
}
