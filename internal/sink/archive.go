package sink

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

const (
	defaultBatchSize    = 64
	defaultBatchTimeout = 5 * time.Second
	defaultDirPerm      = 0o755

	createArchiveSQL = `
	   CREATE TABLE IF NOT EXISTS measurements (
	       timestamp REAL    NOT NULL,
	       uuid      TEXT    NOT NULL,
	       sid       INTEGER NOT NULL,
	       value     TEXT    NOT NULL,
	       unit      TEXT    NOT NULL
	   );
	   CREATE INDEX IF NOT EXISTS idx_measurements_timestamp
	       ON measurements (timestamp);`

	insertMeasurementSQL = `
    INSERT INTO measurements (timestamp, uuid, sid, value, unit)
    VALUES (?, ?, ?, ?, ?)`
)

type archiveRow struct {
	timestamp float64
	uuid      string
	sid       int
	value     string
	unit      string
}

// ArchiveSink persists every delivered Sample into a local SQLite database,
// one row per DataEvent. Rows are buffered and flushed in batched
// transactions to keep the write amplification down at short intervals.
type ArchiveSink struct {
	cfg Config
	log logger.Logger

	queue  *Queue
	db     *sql.DB
	cancel context.CancelFunc
	done   chan struct{}

	mu          sync.Mutex
	buffer      []archiveRow
	flushTicker *time.Ticker
	flushDone   chan struct{}
}

func NewArchiveSink(cfg Config, log logger.Logger) (*ArchiveSink, error) {
	if cfg.Database == "" {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "sqlite sink requires a database path")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	return &ArchiveSink{
		cfg: cfg,
		log: log.With("sqlite"),
	}, nil
}

func (s *ArchiveSink) Driver() string {
	return "sqlite"
}

func (s *ArchiveSink) Connect(_ context.Context) (*Queue, error) {
	errFactory := errors.New()

	if err := os.MkdirAll(filepath.Dir(s.cfg.Database), defaultDirPerm); err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}

	// WAL keeps readers from blocking the single writer goroutine.
	dsn := s.cfg.Database + "?_journal=WAL&_auto_vacuum=2"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}
	if _, err := db.Exec(createArchiveSQL); err != nil {
		db.Close()
		return nil, errFactory.Wrap(ErrStorageInit, err)
	}
	s.db = db

	s.log.Info().
		Str("path", s.cfg.Database).
		Int("batch_size", s.cfg.BatchSize).
		Dur("batch_timeout", s.cfg.BatchTimeout).
		Msg("Archive sink initialized")

	s.queue = NewQueue()
	s.buffer = make([]archiveRow, 0, s.cfg.BatchSize)
	s.flushTicker = time.NewTicker(s.cfg.BatchTimeout)
	s.flushDone = make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.consumer(ctx)
	go s.flusher(ctx)

	return s.queue, nil
}

func (s *ArchiveSink) Shutdown(_ context.Context) error {
	if s.db == nil {
		return nil
	}

	if !s.queue.Join(s.cfg.DrainTimeout) {
		s.log.ErrorWithCode(errors.New().New(ErrDrainTimeout)).
			Int("backlog", s.queue.Len()).
			Msg("Timeout while flushing the archive sink")
	}

	s.cancel()
	<-s.done
	<-s.flushDone

	errFactory := errors.New()

	// Checkpoint WAL and cleanup on close
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	if err := s.db.Close(); err != nil {
		return errFactory.Wrap(ErrStorageClose, err)
	}
	s.db = nil
	s.log.Info().Msg("Archive sink closed gracefully")

	return nil
}

func (s *ArchiveSink) consumer(ctx context.Context) {
	defer close(s.done)

	for {
		item, err := s.queue.Get(ctx)
		if err != nil {
			return
		}

		s.mu.Lock()
		for _, ev := range item.Events {
			s.buffer = append(s.buffer, archiveRow{
				timestamp: float64(item.Timestamp.UnixNano()) / float64(time.Second),
				uuid:      ev.Sender.String(),
				sid:       ev.SID,
				value:     ev.Value.String(),
				unit:      ev.Unit,
			})
		}
		full := len(s.buffer) >= s.cfg.BatchSize
		if full {
			if err := s.flush(); err != nil {
				s.log.Error().Err(err).Msg("Failed to flush measurements")
			}
		}
		s.mu.Unlock()

		s.queue.Done()
	}
}

func (s *ArchiveSink) flusher(ctx context.Context) {
	defer close(s.flushDone)

	for {
		select {
		case <-s.flushTicker.C:
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.log.Error().Err(err).Msg("Failed to flush measurements")
			}
			s.mu.Unlock()
		case <-ctx.Done():
			s.flushTicker.Stop()
			s.mu.Lock()
			if err := s.flush(); err != nil {
				s.log.Error().Err(err).Msg("Failed to flush measurements")
			}
			s.mu.Unlock()

			return
		}
	}
}

// flush writes the buffered rows in one transaction. Callers hold s.mu.
func (s *ArchiveSink) flush() error {
	if len(s.buffer) == 0 {
		return nil
	}

	errFactory := errors.New()

	tx, err := s.db.Begin()
	if err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	stmt, err := tx.Prepare(insertMeasurementSQL)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Error().Err(rbErr).Msg("Failed to roll back transaction")
		}

		return errFactory.Wrap(ErrTransactionFailed, err)
	}
	defer stmt.Close()

	for _, row := range s.buffer {
		if _, err := stmt.Exec(row.timestamp, row.uuid, int64(row.sid), row.value, row.unit); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				s.log.Error().Err(rbErr).Msg("Failed to roll back transaction")
			}

			return errFactory.Wrap(ErrTransactionFailed, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errFactory.Wrap(ErrTransactionFailed, err)
	}

	s.log.Debug().Int("records", len(s.buffer)).Msg("Flushed measurements to database")
	s.buffer = s.buffer[:0]

	return nil
}
