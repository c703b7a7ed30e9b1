package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nomorepassword/bclient/internal/domain/model"
	"github.com/nomorepassword/bclient/internal/domain/port/driven"
)

// SweepResult summarizes one auto-refresh pass.
type SweepResult struct {
	Total     int
	Refreshed int
	Skipped   int // replaced or deleted while the sweep ran
	Failed    int
	Duration  time.Duration
}

// RefreshService periodically extends every auto-refresh session. A refresh
// re-stamps the payload and pushes refresh_deadline out by the session TTL;
// it does not log in to the target site again.
type RefreshService struct {
	sessions   driven.SessionStore
	interval   time.Duration
	sessionTTL time.Duration
	now        func() time.Time
	logger     *slog.Logger

	sweeps singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRefreshService creates a RefreshService. Call Start to begin sweeping.
func NewRefreshService(sessions driven.SessionStore, interval, sessionTTL time.Duration, logger *slog.Logger) *RefreshService {
	return &RefreshService{
		sessions:   sessions,
		interval:   interval,
		sessionTTL: sessionTTL,
		now:        time.Now,
		logger:     logger,
	}
}

// Start launches the sweep loop: one sweep immediately, then one per interval.
// It returns false without doing anything if the loop is already running.
func (s *RefreshService) Start(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return false
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	go func() {
		defer close(done)
		s.run(loopCtx)
	}()
	return true
}

// Stop cancels the loop and waits for it to exit. Stopping a stopped
// service is a no-op.
func (s *RefreshService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the sweep loop is active.
func (s *RefreshService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *RefreshService) run(ctx context.Context) {
	s.logSweep(s.Sweep(ctx))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopped")
			return
		case <-ticker.C:
			s.logSweep(s.Sweep(ctx))
		}
	}
}

func (s *RefreshService) logSweep(res SweepResult, err error) {
	if err != nil {
		s.logger.Error("refresh sweep failed", "error", err)
		return
	}
	s.logger.Info("refresh sweep complete",
		"sessions", res.Total,
		"refreshed", res.Refreshed,
		"skipped", res.Skipped,
		"errors", res.Failed,
		"duration", res.Duration.Round(time.Millisecond),
	)
}

// Sweep refreshes every auto-refresh session once. Concurrent callers share
// a single in-flight sweep. A failing record is counted, never fatal.
func (s *RefreshService) Sweep(ctx context.Context) (SweepResult, error) {
	v, err, _ := s.sweeps.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	if err != nil {
		return SweepResult{}, err
	}
	return v.(SweepResult), nil
}

func (s *RefreshService) sweep(ctx context.Context) (SweepResult, error) {
	start := time.Now()

	stored, err := s.sessions.ListAutoRefresh(ctx)
	if err != nil {
		return SweepResult{}, fmt.Errorf("list auto-refresh sessions: %w", err)
	}

	res := SweepResult{Total: len(stored)}
	for _, st := range stored {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}

		if st.DecodeErr != nil {
			s.logger.Warn("session payload unreadable", "owner_id", st.Session.OwnerID, "error", st.DecodeErr)
			res.Failed++
			continue
		}

		ok, err := s.renew(ctx, st.Session)
		switch {
		case err != nil:
			s.logger.Error("session refresh failed", "owner_id", st.Session.OwnerID, "error", err)
			res.Failed++
		case !ok:
			res.Skipped++
		default:
			res.Refreshed++
		}
	}

	res.Duration = time.Since(start)
	return res, nil
}

// RefreshOwner refreshes the owner's latest session immediately.
func (s *RefreshService) RefreshOwner(ctx context.Context, ownerID string) error {
	sess, err := s.sessions.GetLatest(ctx, ownerID)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("no session for owner %s", ownerID)
	}
	ok, err := s.renew(ctx, *sess)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("session for owner %s changed during refresh", ownerID)
	}
	return nil
}

func (s *RefreshService) renew(ctx context.Context, sess model.Session) (bool, error) {
	if err := sess.Payload.Validate(); err != nil {
		return false, err
	}

	prev := sess.UpdatedAt
	now := s.now()
	sess.Payload.Timestamp = now
	sess.RefreshDeadline = now.Add(s.sessionTTL)
	sess.UpdatedAt = now

	return s.sessions.Renew(ctx, sess, prev)
}
