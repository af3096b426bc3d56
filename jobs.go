package trustcoin

import (
	"context"
	"time"
)

const (
	defaultSyncInterval   = 30 * time.Minute
	pendingMintInterval   = 30 * time.Second
	pendingMintJobTimeout = 2 * time.Minute
)

func (s *Trustcoin) runJobs() {
	if s.config.Sync.Enable {
		interval := s.config.Sync.Interval
		if interval <= 0 {
			interval = defaultSyncInterval
		}
		if _, err := s.scheduler.Every(interval).SingletonMode().Do(s.syncWhitelistJob); err != nil {
			log.Error("schedule syncWhitelistJob", "err", err)
		}
	}
	if _, err := s.scheduler.Every(pendingMintInterval).SingletonMode().Do(s.resolvePendingMints); err != nil {
		log.Error("schedule resolvePendingMints", "err", err)
	}

	s.scheduler.StartAsync()
}

func (s *Trustcoin) syncWhitelistJob() {
	addrs, err := s.Candidates()
	if err != nil {
		log.Error("s.Candidates()", "err", err)
		return
	}
	if len(addrs) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), syncRequestTimeout)
	defer cancel()
	res, err := s.SyncWhitelist(ctx, addrs)
	if err != nil {
		log.Error("s.SyncWhitelist(addrs)", "err", err, "number", len(addrs))
		return
	}
	for _, e := range res.Errors {
		log.Warn("sync address failed", "detail", e)
	}
}

func (s *Trustcoin) resolvePendingMints() {
	ctx, cancel := context.WithTimeout(context.Background(), pendingMintJobTimeout)
	defer cancel()
	n, err := s.ledger.ResolvePendingMints(ctx)
	if err != nil {
		log.Error("s.ledger.ResolvePendingMints()", "err", err)
		return
	}
	if n > 0 {
		log.Info("resolved pending mints", "number", n)
	}
}
