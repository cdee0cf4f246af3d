package pipeline

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/traffic-sign-alert/internal/alert"
	"github.com/dj-oyu/traffic-sign-alert/internal/logger"
	"github.com/dj-oyu/traffic-sign-alert/internal/source"
	"github.com/dj-oyu/traffic-sign-alert/pkg/types"
)

// Session runs a driver until its source is exhausted, the context is
// cancelled, or a fatal error occurs. It owns the alert state.
type Session struct {
	driver   *Driver
	src      source.Source
	prefetch int

	releaseOnce sync.Once
	releaseErr  error
}

// NewSession wraps a driver. prefetch > 0 decodes frames on a separate
// goroutine into a queue of that size.
func NewSession(driver *Driver, prefetch int) *Session {
	return &Session{driver: driver, src: driver.deps.Source, prefetch: prefetch}
}

// Driver returns the session's driver
func (s *Session) Driver() *Driver {
	return s.driver
}

// release closes the source exactly once
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.src.Close()
		if s.releaseErr != nil {
			logger.Warn("Session", "Closing source: %v", s.releaseErr)
		}
	})
}

// Run blocks until the session ends. Exhaustion and cancellation return nil.
func (s *Session) Run(ctx context.Context) (err error) {
	stop := context.AfterFunc(ctx, s.release)
	defer func() {
		stop()
		s.release()
		if err != nil {
			err = multierr.Append(err, s.releaseErr)
		}
	}()

	logger.Info("Session", "Session started (%s source, prefetch=%d)", s.src.Kind(), s.prefetch)

	if s.prefetch > 0 {
		err = s.runPrefetch(ctx)
	} else {
		err = s.runSequential(ctx)
	}
	err = s.normalize(ctx, err)

	logger.Info("Session", "Session ended after %d frames (err=%v)", s.driver.Frames(), err)
	return err
}

func (s *Session) runSequential(ctx context.Context) error {
	var state alert.State
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := s.driver.Tick(ctx, state)
		if err != nil {
			return err
		}
		state = next
	}
}

// runPrefetch decodes on a producer goroutine while the consumer processes
// frames in arrival order. Only the consumer touches the alert state.
func (s *Session) runPrefetch(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	frames := make(chan types.Frame, s.prefetch)

	g.Go(func() error {
		defer close(frames)
		for {
			frame, err := s.driver.pull(gctx)
			if errors.Is(err, source.ErrSourceExhausted) {
				return nil
			}
			if err != nil {
				return err
			}
			select {
			case frames <- frame:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	g.Go(func() error {
		var state alert.State
		for frame := range frames {
			next, err := s.driver.Process(gctx, frame, state)
			if err != nil {
				return err
			}
			state = next
		}
		return nil
	})

	return g.Wait()
}

func (s *Session) normalize(ctx context.Context, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, source.ErrSourceExhausted):
		return nil
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return nil
	case ctx.Err() != nil && errors.Is(err, source.ErrSourceUnreadable):
		// The source was closed under a pending read by cancellation.
		return nil
	default:
		return err
	}
}
