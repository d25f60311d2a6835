package services

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"zapblast/internal/repository"
)

// Scheduler drives campaign dispatch on a fixed cadence. Every tick it lists
// running campaigns with work left and hands each to the dispatcher on its
// own goroutine. A local in-flight set keeps one process from stacking
// goroutines on a slow campaign; the cross-instance guarantee comes from the
// storage claim inside the dispatcher.
type Scheduler struct {
	interval   time.Duration
	campaigns  *repository.CampaignRepo
	dispatcher *Dispatcher

	running atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

func NewScheduler(interval time.Duration, campaigns *repository.CampaignRepo, dispatcher *Dispatcher) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		interval:   interval,
		campaigns:  campaigns,
		dispatcher: dispatcher,
		done:       make(chan struct{}),
		inflight:   make(map[string]struct{}),
	}
}

// Start launches the tick loop. Returns false if already running. The first
// tick fires immediately instead of waiting a full interval.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running.Load() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running.Store(true)

	go func() {
		defer close(s.done)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		log.Info().Dur("interval", s.interval).Msg("Dispatch scheduler started")

		s.safeTick(ctx)

		for {
			select {
			case <-ctx.Done():
				log.Info().Msg("Dispatch scheduler stopping")
				return
			case <-ticker.C:
				s.safeTick(ctx)
			}
		}
	}()

	return true
}

// Stop cancels the loop and waits for it to exit. In-flight batches notice
// the canceled context at the next pacing delay.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running.Load() {
		return false
	}

	s.cancel()
	<-s.done
	s.running.Store(false)

	log.Info().Msg("Dispatch scheduler stopped")
	return true
}

func (s *Scheduler) IsRunning() bool {
	return s.running.Load()
}

// Kick processes one campaign immediately, without waiting for the next
// tick. Used right after a campaign start or resume. Fire-and-forget.
func (s *Scheduler) Kick(campaignID string) {
	go s.processIfIdle(context.Background(), campaignID)
}

func (s *Scheduler) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Scheduler tick panic recovered")
		}
	}()

	runnable, err := s.campaigns.ListRunnable(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Scheduler could not list running campaigns")
		return
	}

	for _, campaign := range runnable {
		id := campaign.ID
		go s.processIfIdle(ctx, id)
	}
}

// processIfIdle runs one batch unless this process already has one going for
// the campaign. The guard is taken before starting and dropped after the
// batch returns, whatever the outcome.
func (s *Scheduler) processIfIdle(ctx context.Context, campaignID string) {
	s.inflightMu.Lock()
	if _, busy := s.inflight[campaignID]; busy {
		s.inflightMu.Unlock()
		return
	}
	s.inflight[campaignID] = struct{}{}
	s.inflightMu.Unlock()

	defer func() {
		s.inflightMu.Lock()
		delete(s.inflight, campaignID)
		s.inflightMu.Unlock()

		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("campaign_id", campaignID).
				Msg("Batch processing panic recovered")
		}
	}()

	result, err := s.dispatcher.ProcessBatch(ctx, campaignID)
	if err != nil {
		log.Error().Err(err).Str("campaign_id", campaignID).Msg("Batch processing failed")
		return
	}
	if !result.Noop {
		log.Debug().Str("campaign_id", campaignID).Int("remaining", result.Remaining).
			Msg("Batch processed")
	}
}
