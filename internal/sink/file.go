package sink

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
)

const (
	defaultDrainTimeout = 3 * time.Second
	filenameDateFormat  = "2006-01-02_15:04:05"
	lineTimestampFormat = time.RFC3339Nano
)

// FileSink appends each delivered Sample as one CSV line to a line-buffered
// log file. The descriptive header block is written exactly once per process,
// even if the sampling session is restarted after a connection error.
type FileSink struct {
	cfg      Config
	filename string
	log      logger.Logger

	queue  *Queue
	file   *os.File
	writer *bufio.Writer
	cancel context.CancelFunc
	done   chan struct{}

	bannerWritten bool
	headerWritten bool
}

func NewFileSink(cfg Config, log logger.Logger) (*FileSink, error) {
	if cfg.Filename == "" {
		return nil, errors.New().WithMessage(ErrInvalidConfig, "file sink requires a filename")
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	date := time.Now().UTC().Truncate(time.Second).Format(filenameDateFormat)

	return &FileSink{
		cfg:      cfg,
		filename: strings.ReplaceAll(cfg.Filename, "{date}", date),
		log:      log.With("file"),
	}, nil
}

func (s *FileSink) Driver() string {
	return "file"
}

func (s *FileSink) Connect(_ context.Context) (*Queue, error) {
	s.log.Info().Msg("Initializing file writer")

	file, err := os.OpenFile(s.filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.New().Wrap(ErrOpenFailed, err)
	}
	s.file = file
	s.writer = bufio.NewWriter(file)
	s.log.Info().Str("filename", s.filename).Msg("File opened")

	if !s.bannerWritten {
		s.bannerWritten = true
		banner := []string{
			"# This file was generated using datalogd v" + s.cfg.Version + ".",
			"# Check https://github.com/PatrickBaus/data-logger for the latest version.",
		}
		if s.cfg.Description != "" {
			banner = append(banner, "# "+s.cfg.Description)
		}
		if err := s.writeLines(banner); err != nil {
			return nil, err
		}
	}

	s.queue = NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.consumer(ctx)

	return s.queue, nil
}

// WriteHeader appends the descriptive header block. Subsequent calls (after
// a sampling session restart) are no-ops, so one file carries one header.
func (s *FileSink) WriteHeader(lines []string) error {
	if s.headerWritten {
		return nil
	}
	s.headerWritten = true

	return s.writeLines(lines)
}

func (s *FileSink) Shutdown(_ context.Context) error {
	if s.file == nil {
		return nil
	}

	if !s.queue.Join(s.cfg.DrainTimeout) {
		s.log.ErrorWithCode(errors.New().New(ErrDrainTimeout)).
			Int("backlog", s.queue.Len()).
			Msg("Timeout while flushing the file writer")
	}

	s.cancel()
	<-s.done

	s.log.Debug().Msg("Closing open file handles")
	flushErr := s.writer.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.writer = nil

	if flushErr != nil {
		return errors.New().Wrap(ErrWriteFailed, flushErr)
	}
	if closeErr != nil {
		return errors.New().Wrap(errors.ErrShutdownFailed, closeErr)
	}
	s.log.Info().Str("filename", s.filename).Msg("File closed")

	return nil
}

// consumer drains the queue strictly in order, one line per item. Each item
// gets exactly one write attempt: a failed write is logged and terminates
// the consumer without retrying the item.
func (s *FileSink) consumer(ctx context.Context) {
	defer close(s.done)

	for {
		item, err := s.queue.Get(ctx)
		if err != nil {
			return
		}

		writeErr := s.writeLine(formatLine(item))
		s.queue.Done()
		if writeErr != nil {
			s.log.ErrorWithCode(errors.New().Wrap(ErrWriteFailed, writeErr)).
				Msg("Error while writing to the log file. Stopping file writer.")

			return
		}
	}
}

func (s *FileSink) writeLines(lines []string) error {
	for _, line := range lines {
		if err := s.writeLine(line + "\n"); err != nil {
			return errors.New().Wrap(ErrWriteFailed, err)
		}
	}

	return nil
}

// writeLine writes and flushes one line, emulating line buffering.
func (s *FileSink) writeLine(line string) error {
	if _, err := s.writer.WriteString(line); err != nil {
		return err
	}

	return s.writer.Flush()
}

func formatLine(item event.Sample) string {
	fields := make([]string, 0, len(item.Events)+1)
	fields = append(fields, item.Timestamp.Format(lineTimestampFormat))
	for _, ev := range item.Events {
		fields = append(fields, ev.String())
	}

	return strings.Join(fields, ",") + "\n"
}
