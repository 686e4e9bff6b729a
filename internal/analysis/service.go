package analysis

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"patina/internal/image"

	"go.uber.org/zap"
)

// ErrQueueTimeout is returned when no comparison slot frees up in time.
var ErrQueueTimeout = errors.New("analysis: comparison queue is full")

// Service runs comparisons for a host process, at most maxConcurrent at a
// time. Comparisons share no state, so the bound only limits CPU and memory.
type Service struct {
	opts         Options
	semaphore    chan struct{}
	queueTimeout time.Duration
	log          *zap.Logger
}

// NewService creates a Service. maxConcurrent <= 0 means one slot per CPU;
// queueTimeout <= 0 waits as long as the caller's context allows.
func NewService(opts Options, maxConcurrent int, queueTimeout time.Duration) (*Service, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("analysis service: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = runtime.NumCPU()
	}
	return &Service{
		opts:         opts,
		semaphore:    make(chan struct{}, maxConcurrent),
		queueTimeout: queueTimeout,
		log:          opts.logger(),
	}, nil
}

// Compare waits for a free slot and runs the pipeline.
func (s *Service) Compare(ctx context.Context, origin, compared *image.Raster) (*Result, error) {
	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	return Compare(ctx, origin, compared, s.opts)
}

// CompareSources loads both sources concurrently and compares them.
func (s *Service) CompareSources(ctx context.Context, loader *image.Loader, originSrc, comparedSrc string) (*Result, error) {
	origin, compared, err := loader.LoadPair(ctx, originSrc, comparedSrc)
	if err != nil {
		return nil, err
	}
	defer origin.Close()
	defer compared.Close()

	return s.Compare(ctx, origin, compared)
}

func (s *Service) acquire(ctx context.Context) error {
	wait := ctx
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-wait.Done():
		if err := ctx.Err(); err != nil {
			return err
		}
		s.log.Warn("comparison queue timeout", zap.Duration("waited", s.queueTimeout))
		return ErrQueueTimeout
	}
}
