package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/teamtf/scrim-bot/internal/domain"
	"github.com/teamtf/scrim-bot/internal/obslog"
	"go.uber.org/zap"
)

// Sweeper is the periodic maintenance loop: it retries pending
// configurations, finishes games whose window has passed, and expires
// scrim listings nobody matched.
type Sweeper struct {
	manager *Manager

	interval   time.Duration
	scrimGrace time.Duration
	now        func() time.Time
}

func NewSweeper(manager *Manager, interval, scrimGrace time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if scrimGrace <= 0 {
		scrimGrace = time.Hour
	}
	return &Sweeper{
		manager:    manager,
		interval:   interval,
		scrimGrace: scrimGrace,
		now:        time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one maintenance pass.
func (s *Sweeper) Sweep(ctx context.Context) {
	runID := uuid.NewString()
	log := obslog.L().With(zap.String("sweep_id", runID))

	s.configurePending(ctx, log)
	s.completeFinished(ctx, log)
	s.expireScrims(ctx, log)
}

// configurePending drives Hosted games toward Configured once their
// warmup window opens, and promotes Joined games immediately. A hosted
// game that keeps failing stops being retried after the attempt budget
// and is left for an operator.
func (s *Sweeper) configurePending(ctx context.Context, log *zap.Logger) {
	now := s.now()

	hosted, err := s.manager.store.ListGamesInState(ctx, domain.StateHosted)
	if err != nil {
		log.Error("sweep_list_hosted_failed", zap.Error(err))
	} else {
		for _, game := range hosted {
			start, _ := domain.ReservationWindow(game.Timestamp)
			if now.Before(start) {
				continue
			}
			if game.ConfigAttempts >= s.manager.maxConfigTries {
				log.Warn("configuration_attempts_exhausted",
					zap.String("key", game.Key().String()),
					zap.Int("attempts", game.ConfigAttempts))
				continue
			}
			if _, err := s.manager.Configure(ctx, game.Key()); err != nil {
				if errors.Is(err, domain.ErrConfigurationFailed) {
					log.Info("configuration_retry_failed",
						zap.String("key", game.Key().String()),
						zap.Error(err))
				} else {
					log.Error("sweep_configure_failed",
						zap.String("key", game.Key().String()),
						zap.Error(err))
				}
			}
		}
	}

	joined, err := s.manager.store.ListGamesInState(ctx, domain.StateJoined)
	if err != nil {
		log.Error("sweep_list_joined_failed", zap.Error(err))
		return
	}
	for _, game := range joined {
		if _, err := s.manager.Configure(ctx, game.Key()); err != nil {
			log.Error("sweep_configure_failed", zap.String("key", game.Key().String()), zap.Error(err))
		}
	}
}

// completeFinished polls official results and closes out scrim games once
// their reserved window has fully elapsed.
func (s *Sweeper) completeFinished(ctx context.Context, log *zap.Logger) {
	configured, err := s.manager.store.ListGamesInState(ctx, domain.StateConfigured)
	if err != nil {
		log.Error("sweep_list_configured_failed", zap.Error(err))
		return
	}

	now := s.now()
	for _, game := range configured {
		if !game.Official() {
			_, end := domain.ReservationWindow(game.Timestamp)
			if now.Before(end) {
				continue
			}
		}
		if _, err := s.manager.Complete(ctx, game.Key()); err != nil {
			if errors.Is(err, domain.ErrFetchFailed) {
				log.Info("result_fetch_retry_later", zap.String("key", game.Key().String()), zap.Error(err))
			} else {
				log.Error("sweep_complete_failed", zap.String("key", game.Key().String()), zap.Error(err))
			}
		}
	}
}

// expireScrims removes listings whose timestamp passed the grace period
// without a match.
func (s *Sweeper) expireScrims(ctx context.Context, log *zap.Logger) {
	cutoff := s.now().Add(-s.scrimGrace)
	stale, err := s.manager.store.ListUnmatchedScrimsBefore(ctx, cutoff)
	if err != nil {
		log.Error("sweep_list_scrims_failed", zap.Error(err))
		return
	}
	for _, scrim := range stale {
		key := domain.GameKey{GuildID: scrim.GuildID, Timestamp: scrim.Timestamp}
		if err := s.manager.store.DeleteScrim(ctx, key); err != nil {
			log.Error("scrim_expiry_failed", zap.String("key", key.String()), zap.Error(err))
			continue
		}
		log.Info("scrim_expired", zap.String("key", key.String()))
		s.announceExpiry(ctx, log, scrim)
	}
}

func (s *Sweeper) announceExpiry(ctx context.Context, log *zap.Logger, scrim *domain.Scrim) {
	if s.manager.announcer == nil {
		return
	}
	guild, err := s.manager.store.GetGuild(ctx, scrim.GuildID)
	if err != nil || guild.ScheduleChannelID == 0 {
		return
	}
	key := domain.GameKey{GuildID: scrim.GuildID, Timestamp: scrim.Timestamp}
	if err := s.manager.announcer.ScrimExpired(ctx, guild.ScheduleChannelID, scrim); err != nil {
		log.Warn("scrim_expiry_announce_failed", zap.String("key", key.String()), zap.Error(err))
	}
}
