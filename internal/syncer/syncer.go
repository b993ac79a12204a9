// internal/syncer/syncer.go
package syncer

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github-star-sync/internal/database"
	custom_errors "github-star-sync/internal/errors"
	"github-star-sync/internal/model"
)

const (
	// Number of accounts to refresh in parallel
	concurrency = 5
)

// StarSyncer is the part of Pipeline the background syncer needs.
type StarSyncer interface {
	Sync(ctx context.Context, req Request) (int, error)
}

// Syncer periodically refreshes the stars of every known account so that
// streams opened later are served from storage.
type Syncer struct {
	accounts     database.Querier
	pipeline     StarSyncer
	logger       *slog.Logger
	syncInterval time.Duration
}

// NewSyncer creates a new Syncer instance.
func NewSyncer(accounts database.Querier, pipeline StarSyncer, logger *slog.Logger, interval time.Duration) (*Syncer, error) {
	if interval <= 0 {
		return nil, &custom_errors.ErrInvalidConfig{Field: "SYNC_INTERVAL", Reason: "must be positive to run the background syncer"}
	}
	return &Syncer{
		accounts:     accounts,
		pipeline:     pipeline,
		logger:       logger,
		syncInterval: interval,
	}, nil
}

// Start begins the continuous synchronization process.
func (s *Syncer) Start(ctx context.Context) {
	s.logger.Info("Starting syncer", "interval", s.syncInterval.String(), "concurrency", concurrency)
	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	s.runSyncCycle(ctx) // Initial sync

	for {
		select {
		case <-ticker.C:
			s.runSyncCycle(ctx)
		case <-ctx.Done():
			s.logger.Info("Syncer shutting down", "reason", ctx.Err())
			return
		}
	}
}

// runSyncCycle performs a synchronization pass for all stored accounts concurrently.
func (s *Syncer) runSyncCycle(ctx context.Context) {
	s.logger.Info("Starting new sync cycle")
	accounts, err := s.accounts.ListAccounts(ctx)
	if err != nil {
		s.logger.Error("Failed to list accounts", "error", err)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, account := range accounts {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := s.syncAccount(gctx, account)
			if err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error("Failed to sync account", "user_id", account.UserID, "login", account.Login, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		s.logger.Error("Sync cycle finished with an error", "error", err)
	} else {
		s.logger.Info("Sync cycle finished", "accounts", len(accounts))
	}
}

// syncAccount refreshes one account. Rate limits are logged and left to the next cycle.
func (s *Syncer) syncAccount(ctx context.Context, account model.Account) error {
	logger := s.logger.With("user_id", account.UserID, "login", account.Login)
	if account.AccessToken == "" {
		logger.Warn("Skipping account without access token")
		return nil
	}

	n, err := s.pipeline.Sync(ctx, Request{
		UserID:      account.UserID,
		AccessToken: account.AccessToken,
		LiveOnly:    true,
	})
	var rateErr *custom_errors.RateLimitError
	if errors.As(err, &rateErr) {
		logger.Warn("Rate limited, deferring to next cycle", "retry_after_seconds", rateErr.RetryAfterSeconds)
		return nil
	}
	if err != nil {
		return err
	}

	logger.Info("Account synced", "records", n)
	return nil
}
