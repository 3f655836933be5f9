package sync

import (
	"context"
	"log"

	"example.com/tilehunt/internal/domain"
)

// Sweeper fans the listing sync out over every account. Accounts sync
// independently: one account's failure is logged and its siblings continue.
type Sweeper struct {
	accounts  domain.AccountRepository
	scheduler domain.Scheduler
	logger    *log.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(accounts domain.AccountRepository, scheduler domain.Scheduler, logger *log.Logger) *Sweeper {
	if logger == nil {
		logger = log.New(log.Writer(), "[sync] ", log.LstdFlags)
	}
	return &Sweeper{accounts: accounts, scheduler: scheduler, logger: logger}
}

// EnqueueAll schedules one listing sync job per account. Jobs route by
// account id, so each account's pages stay strictly sequential while
// independent accounts sync in parallel.
func (s *Sweeper) EnqueueAll(ctx context.Context) (int, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, account := range accounts {
		job := domain.SyncActivitiesJob{AccountID: account.ID}
		if err := s.scheduler.Enqueue(ctx, domain.JobSyncActivities, job); err != nil {
			s.logger.Printf("account %s: enqueue failed: %v", account.ID, err)
			continue
		}
		enqueued++
	}
	return enqueued, nil
}
