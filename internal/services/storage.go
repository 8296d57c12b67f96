package services

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"splynx-collector/internal/common"
	"splynx-collector/internal/interfaces"
)

const (
	runsBucket     = "runs"
	metadataBucket = "metadata"
	lastRunKey     = "last_run"
)

type storage struct {
	db     *bolt.DB
	config *common.StorageConfig
}

// NewStorage opens the run-history database, creating its buckets.
func NewStorage(config *common.StorageConfig) (interfaces.Storage, error) {
	dbDir := filepath.Dir(config.DatabasePath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if config.BackupDir != "" {
		if err := os.MkdirAll(config.BackupDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create backup directory: %w", err)
		}
	}

	db, err := bolt.Open(config.DatabasePath, 0600, &bolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(metadataBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &storage{db: db, config: config}, nil
}

func (s *storage) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordRun persists one job outcome under a time-ordered key.
func (s *storage) RecordRun(record *interfaces.RunRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))

		key := []byte(fmt.Sprintf("%s:%s", record.Started.UTC().Format(time.RFC3339Nano), record.Command))
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal run record: %w", err)
		}
		if err := bucket.Put(key, data); err != nil {
			return fmt.Errorf("failed to save run record: %w", err)
		}

		metaBucket := tx.Bucket([]byte(metadataBucket))
		return metaBucket.Put([]byte(lastRunKey), data)
	})
}

func (s *storage) LoadRuns() ([]*interfaces.RunRecord, error) {
	var runs []*interfaces.RunRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(runsBucket))
		return bucket.ForEach(func(k, v []byte) error {
			var record interfaces.RunRecord
			if err := json.Unmarshal(v, &record); err != nil {
				common.GetLogger().Warn().Str("key", string(k)).Msg("Skipping unreadable run record")
				return nil
			}
			runs = append(runs, &record)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load runs: %w", err)
	}
	return runs, nil
}

func (s *storage) LastRun() (*interfaces.RunRecord, error) {
	var record *interfaces.RunRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket([]byte(metadataBucket)).Get([]byte(lastRunKey))
		if data == nil {
			return nil
		}
		record = &interfaces.RunRecord{}
		return json.Unmarshal(data, record)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load last run: %w", err)
	}
	return record, nil
}
