// Package database holds database maintenance helpers.
package database

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/mrted88/gas-engineer-crm/internal/config"
)

// BackupService copies the sqlite file into a dated backup directory.
// Scheduling is owned by the caller (cron in cmd/server).
type BackupService struct {
	dbPath string
	config config.Config
	logger zerolog.Logger
}

func NewBackupService(dbPath string, cfg *config.Config, logger *zerolog.Logger) *BackupService {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &BackupService{dbPath: dbPath, config: *cfg, logger: l}
}

// Run performs one backup and prunes expired ones. Used as a cron job.
func (s *BackupService) Run() {
	if err := s.PerformBackup(); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled backup failed")
		return
	}
	s.CleanupOldBackups()
}

func (s *BackupService) PerformBackup() error {
	if _, err := os.Stat(s.config.Backup.StoragePath); os.IsNotExist(err) {
		if err := os.MkdirAll(s.config.Backup.StoragePath, 0755); err != nil {
			return fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	timestamp := time.Now().Format("20060102_150405")
	backupFileName := fmt.Sprintf("backup_%s.db", timestamp)
	backupPath := filepath.Join(s.config.Backup.StoragePath, backupFileName)

	s.logger.Info().Str("path", backupPath).Msg("Performing database backup")

	source, err := os.Open(s.dbPath)
	if err != nil {
		return err
	}
	defer source.Close()

	destination, err := os.Create(backupPath)
	if err != nil {
		return err
	}
	defer destination.Close()

	_, err = io.Copy(destination, source)
	if err != nil {
		return err
	}

	s.logger.Info().Msg("Backup completed successfully")
	return nil
}

func (s *BackupService) CleanupOldBackups() {
	if s.config.Backup.RetentionDays <= 0 {
		return
	}

	files, err := os.ReadDir(s.config.Backup.StoragePath)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read backup directory for cleanup")
		return
	}

	cutoff := time.Now().AddDate(0, 0, -s.config.Backup.RetentionDays)

	for _, file := range files {
		if file.IsDir() {
			continue
		}

		info, err := file.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			s.logger.Info().Str("file", file.Name()).Msg("Deleting old backup")
			os.Remove(filepath.Join(s.config.Backup.StoragePath, file.Name()))
		}
	}
}
