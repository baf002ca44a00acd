// Package scheduler runs the periodic settlement and backup jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/models"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"
)

const (
	JobSettlement = "settlement"
	JobBackup     = "backup"
)

type Settler interface {
	SettleAll(ctx context.Context, period models.DateRange) ([]*models.Settlement, []error)
}

type Backuper interface {
	Backup(ctx context.Context, dir string) (string, error)
}

type Scheduler struct {
	cron       gocron.Scheduler
	settler    Settler
	backups    Backuper
	settlement config.SettlementSchedule
	backup     config.BackupConfig
	logger     *zerolog.Logger
	now        func() time.Time
}

func New(settler Settler, backups Backuper, settlement config.SettlementSchedule, backup config.BackupConfig, logger *zerolog.Logger) (*Scheduler, error) {
	cron, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Scheduler{
		cron:       cron,
		settler:    settler,
		backups:    backups,
		settlement: settlement,
		backup:     backup,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Start registers the enabled jobs and starts the scheduler. Jobs run with ctx
// until Shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.settlement.Enabled && s.settler != nil {
		if err := s.addJob(JobSettlement, s.settlement.Interval, func() {
			if _, err := s.RunSettlement(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled settlement finished with errors")
			}
		}); err != nil {
			return err
		}
	}

	if s.backup.Enabled && s.backups != nil {
		if err := s.addJob(JobBackup, s.backup.Interval, func() {
			if _, err := s.RunBackup(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Scheduled backup failed")
			}
		}); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info().Int("jobs", len(s.cron.Jobs())).Msg("Scheduler started")
	return nil
}

func (s *Scheduler) addJob(name string, interval time.Duration, task func()) error {
	if interval <= 0 {
		return fmt.Errorf("%s job interval must be positive", name)
	}
	_, err := s.cron.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule %s job: %w", name, err)
	}
	return nil
}

// JobNames lists the registered jobs.
func (s *Scheduler) JobNames() []string {
	jobs := s.cron.Jobs()
	names := make([]string, 0, len(jobs))
	for _, j := range jobs {
		names = append(names, j.Name())
	}
	return names
}

func (s *Scheduler) Shutdown() error {
	return s.cron.Shutdown()
}

// TrailingPeriod is the settlement window of period_days ending yesterday.
func (s *Scheduler) TrailingPeriod() models.DateRange {
	days := s.settlement.PeriodDays
	if days <= 0 {
		days = 1
	}
	end := models.NewDate(s.now().UTC()).AddDays(-1)
	return models.DateRange{Start: end.AddDays(-(days - 1)), End: end}
}

// RunSettlement settles the trailing period for every merchant and returns how
// many settlements were created.
func (s *Scheduler) RunSettlement(ctx context.Context) (int, error) {
	period := s.TrailingPeriod()
	created, errs := s.settler.SettleAll(ctx, period)

	s.logger.Info().
		Str("period_start", period.Start.String()).
		Str("period_end", period.End.String()).
		Int("created", len(created)).
		Int("failed", len(errs)).
		Msg("Settlement run completed")

	return len(created), errors.Join(errs...)
}

// RunBackup writes a database backup and prunes old ones.
func (s *Scheduler) RunBackup(ctx context.Context) (string, error) {
	path, err := s.backups.Backup(ctx, s.backup.StoragePath)
	if err != nil {
		return "", err
	}

	removed, err := database.CleanupBackups(s.backup.StoragePath, s.backup.RetentionDays, s.now())
	if err != nil {
		s.logger.Warn().Err(err).Msg("Backup cleanup failed")
	} else if removed > 0 {
		s.logger.Info().Int("removed", removed).Msg("Old backups removed")
	}
	return path, nil
}
