// Package main - arkive operator CLI
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/apex/log"
	"github.com/arkive-dms/arkive"
	"github.com/arkive-dms/arkive/backup"
	"github.com/arkive-dms/arkive/config"
	"github.com/arkive-dms/arkive/db"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"
)

var configPath string

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(level)
	}
	return cfg, nil
}

func newPersistence(cfg config.Config) (db.Client, error) {
	return db.NewConnection(db.GetSqliteDialector(cfg.DatabasePath), logger.Error)
}

func newManager(cfg config.Config, persistence db.Client) (backup.Manager, error) {
	return arkive.NewBackupManager(cfg.BackupDir, persistence)
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the storage schema if absent",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := newPersistence(cfg)
			if err != nil {
				return err
			}
			return persistence.DefineSchema(cmd.Context())
		},
	}
}

func newBackupCmd() *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Manage backup archives",
	}

	backupCmd.AddCommand(&cobra.Command{
		Use:   "create [output]",
		Short: "Create a new backup archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := newPersistence(cfg)
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, persistence)
			if err != nil {
				return err
			}

			outputPath := filepath.Join(
				cfg.BackupDir, fmt.Sprintf("arkive_backup_%s.zip", ulid.Make().String()),
			)
			if len(args) == 1 {
				outputPath = args[0]
			}

			manifest, err := manager.Create(
				cmd.Context(), cfg.DatabasePath, cfg.FilesRoot, outputPath,
			)
			if err != nil {
				return err
			}
			fmt.Printf(
				"Created %s (%d items, %d bytes of store)\n",
				outputPath, manifest.FilesCount, manifest.DatabaseSize,
			)
			return nil
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "verify <archive>",
		Short: "Validate a backup archive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, nil)
			if err != nil {
				return err
			}
			manifest, err := manager.Verify(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf(
				"OK: created %s, version %s, %d items, checksum %s\n",
				manifest.CreatedAt.Format("2006-01-02 15:04"),
				manifest.Version,
				manifest.FilesCount,
				manifest.Checksum[:16],
			)
			return nil
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "restore <archive>",
		Short: "Restore a backup archive over the configured store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, nil)
			if err != nil {
				return err
			}
			if err := manager.Restore(
				cmd.Context(), args[0], cfg.DatabasePath, cfg.FilesRoot,
			); err != nil {
				return err
			}
			fmt.Println("Restore complete. Restart any running instance.")
			return nil
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List verified backup archives",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, nil)
			if err != nil {
				return err
			}
			records, err := manager.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, record := range records {
				fmt.Printf(
					"%s\t%s\t%d items\n",
					record.Path,
					record.Manifest.CreatedAt.Format("2006-01-02 15:04"),
					record.Manifest.FilesCount,
				)
			}
			return nil
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "cleanup",
		Short: "Remove old backup archives past the retention count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, nil)
			if err != nil {
				return err
			}
			removed, err := manager.Cleanup(cmd.Context(), cfg.BackupKeepCount)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d backup archives\n", removed)
			return nil
		},
	})

	backupCmd.AddCommand(&cobra.Command{
		Use:   "schedule",
		Short: "Run the periodic backup scheduler until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := newPersistence(cfg)
			if err != nil {
				return err
			}
			manager, err := newManager(cfg, persistence)
			if err != nil {
				return err
			}
			scheduler, err := backup.NewScheduler(backup.SchedulerParams{
				Manager:   manager,
				Schedule:  cfg.BackupSchedule,
				DBPath:    cfg.DatabasePath,
				FilesRoot: cfg.FilesRoot,
				BackupDir: cfg.BackupDir,
				KeepCount: cfg.BackupKeepCount,
			})
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(
				cmd.Context(), os.Interrupt, syscall.SIGTERM,
			)
			defer stop()

			if err := scheduler.Start(runCtx); err != nil {
				return err
			}
			<-runCtx.Done()
			return scheduler.Stop(context.Background())
		},
	})

	return backupCmd
}

func newAuditCmd() *cobra.Command {
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit trail",
	}

	auditCmd.AddCommand(&cobra.Command{
		Use:   "verify",
		Short: "Re-verify the whole audit chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := newPersistence(cfg)
			if err != nil {
				return err
			}

			var report db.AuditChainReport
			if err := persistence.UseDatabase(
				cmd.Context(), func(ctx context.Context, dbClient db.Database) error {
					var err error
					report, err = dbClient.VerifyAuditChain(ctx)
					return err
				},
			); err != nil {
				return err
			}

			if !report.Valid {
				return fmt.Errorf(
					"audit chain INVALID at sequence %d: %s", report.FailedSequence, report.Reason,
				)
			}
			fmt.Printf("Audit chain valid (%d entries)\n", report.Entries)
			return nil
		},
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit entries",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := newPersistence(cfg)
			if err != nil {
				return err
			}

			limit, _ := cmd.Flags().GetInt("limit")
			filters := db.AuditQueryFilter{}
			filters.Limit = &limit
			if userID, _ := cmd.Flags().GetString("user"); userID != "" {
				filters.UserID = &userID
			}

			return persistence.UseDatabase(
				cmd.Context(), func(ctx context.Context, dbClient db.Database) error {
					entries, err := dbClient.ListAuditEntries(ctx, filters)
					if err != nil {
						return err
					}
					for _, entry := range entries {
						fmt.Printf(
							"%d\t%s\t%s\t%s\t%s\tsuccess=%v\n",
							entry.SequenceID,
							entry.Timestamp,
							entry.Username,
							entry.Action,
							entry.ResourceType,
							entry.IsSuccess,
						)
					}
					return nil
				},
			)
		},
	}
	listCmd.Flags().Int("limit", 50, "maximum entries to show")
	listCmd.Flags().String("user", "", "filter by user ID")
	auditCmd.AddCommand(listCmd)

	return auditCmd
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "arkive",
		Short: "Document store with a tamper-evident audit trail",
	}
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "arkive.yaml", "config file path",
	)

	rootCmd.AddCommand(newMigrateCmd(), newBackupCmd(), newAuditCmd())

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
