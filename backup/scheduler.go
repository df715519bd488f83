package backup

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/oklog/ulid/v2"
	"github.com/robfig/cron/v3"
)

// SchedulerParams configuration for the periodic backup scheduler
type SchedulerParams struct {
	// Manager the backup manager to drive
	Manager Manager
	// Schedule cron expression for backup runs
	Schedule string
	// DBPath live store file to snapshot
	DBPath string
	// FilesRoot ancillary files directory to snapshot
	FilesRoot string
	// BackupDir directory receiving new archives
	BackupDir string
	// KeepCount retention applied after each run
	KeepCount int
}

// Scheduler runs periodic backups with retention
type Scheduler interface {
	/*
		Start begin scheduled backup runs

			@param ctx context.Context - execution context
	*/
	Start(ctx context.Context) error

	/*
		Stop halt scheduled backup runs, waiting for an in-flight run to finish

			@param ctx context.Context - execution context
	*/
	Stop(ctx context.Context) error
}

// schedulerImpl implements Scheduler
type schedulerImpl struct {
	goutils.Component

	params SchedulerParams
	runner *cron.Cron
}

/*
NewScheduler define a new periodic backup scheduler

	@param params SchedulerParams - scheduler configuration
	@returns scheduler instance
*/
func NewScheduler(params SchedulerParams) (Scheduler, error) {
	logTags := log.Fields{"module": "backup", "component": "backup-scheduler"}

	if params.Manager == nil {
		return nil, fmt.Errorf("scheduler requires a backup manager")
	}

	instance := &schedulerImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		params: params,
		runner: cron.New(),
	}

	if _, err := instance.runner.AddFunc(params.Schedule, instance.runOnce); err != nil {
		return nil, fmt.Errorf("invalid backup schedule '%s' [%w]", params.Schedule, err)
	}

	return instance, nil
}

// runOnce produce one archive and apply retention
func (s *schedulerImpl) runOnce() {
	ctx := context.Background()
	logTags := s.GetLogTagsForContext(ctx)

	outputPath := filepath.Join(
		s.params.BackupDir, fmt.Sprintf("arkive_backup_%s.zip", ulid.Make().String()),
	)

	if _, err := s.params.Manager.Create(
		ctx, s.params.DBPath, s.params.FilesRoot, outputPath,
	); err != nil {
		log.WithError(err).WithFields(logTags).Error("Scheduled backup failed")
		return
	}

	removed, err := s.params.Manager.Cleanup(ctx, s.params.KeepCount)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Backup retention sweep failed")
		return
	}
	if removed > 0 {
		log.WithFields(logTags).WithField("removed", removed).Info("Old backups removed")
	}
}

/*
Start begin scheduled backup runs

	@param ctx context.Context - execution context
*/
func (s *schedulerImpl) Start(ctx context.Context) error {
	logTags := s.GetLogTagsForContext(ctx)
	log.WithFields(logTags).
		WithField("schedule", s.params.Schedule).
		Info("Starting backup scheduler")
	s.runner.Start()
	return nil
}

/*
Stop halt scheduled backup runs, waiting for an in-flight run to finish

	@param ctx context.Context - execution context
*/
func (s *schedulerImpl) Stop(ctx context.Context) error {
	stopCtx := s.runner.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
