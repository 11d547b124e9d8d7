package sink_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

func countRows(t *testing.T, dbPath string) int {
	t.Helper()

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM measurements").Scan(&count))

	return count
}

func TestArchiveSinkPersistsEvents(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "archive", "measurements.db")
	archive, err := sink.NewArchiveSink(sink.Config{Database: dbPath}, logger.Discard())
	require.NoError(t, err)

	queue, err := archive.Connect(context.Background())
	require.NoError(t, err)

	sender := uuid.New()
	for i := 0; i < 2; i++ {
		queue.Put(event.Sample{
			Timestamp: time.Now().UTC(),
			Events: []event.DataEvent{
				event.New(sender, 0, "sensors/dmm/a", event.ParseValue("5.0"), "V"),
				event.New(sender, 1, "sensors/dmm/b", event.ParseValue("5.1"), "V"),
			},
		})
	}

	require.NoError(t, archive.Shutdown(context.Background()))

	assert.Equal(t, 4, countRows(t, dbPath), "two samples of two events each")

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var value, unit string
	var timestamp float64
	row := db.QueryRow("SELECT timestamp, value, unit FROM measurements WHERE sid = 1 LIMIT 1")
	require.NoError(t, row.Scan(&timestamp, &value, &unit))
	assert.Equal(t, "5.1", value, "values are stored verbatim, trailing zeros included")
	assert.Equal(t, "V", unit)
	assert.Positive(t, timestamp)
}

func TestArchiveSinkFlushesFullBatch(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "measurements.db")
	archive, err := sink.NewArchiveSink(sink.Config{
		Database:     dbPath,
		BatchSize:    4,
		BatchTimeout: time.Hour, // only the size threshold may trigger the flush
	}, logger.Discard())
	require.NoError(t, err)

	queue, err := archive.Connect(context.Background())
	require.NoError(t, err)

	sender := uuid.New()
	for i := 0; i < 4; i++ {
		queue.Put(event.Sample{
			Timestamp: time.Now().UTC(),
			Events: []event.DataEvent{
				event.New(sender, i, "sensors/dmm", event.NumberValue(float64(i)), "V"),
			},
		})
	}
	require.True(t, queue.Join(5*time.Second))

	// The batch is full, so the rows must be visible before Shutdown.
	require.Eventually(t, func() bool {
		return countRows(t, dbPath) == 4
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, archive.Shutdown(context.Background()))
}

func TestArchiveSinkFlushesPartialBatchOnShutdown(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "measurements.db")
	archive, err := sink.NewArchiveSink(sink.Config{
		Database:     dbPath,
		BatchSize:    1000,
		BatchTimeout: time.Hour,
	}, logger.Discard())
	require.NoError(t, err)

	queue, err := archive.Connect(context.Background())
	require.NoError(t, err)

	queue.Put(event.Sample{
		Timestamp: time.Now().UTC(),
		Events: []event.DataEvent{
			event.New(uuid.New(), 0, "sensors/dmm", event.ParseValue("1.0"), "V"),
		},
	})

	require.NoError(t, archive.Shutdown(context.Background()))

	assert.Equal(t, 1, countRows(t, dbPath), "shutdown must flush the partial batch")
}

func TestArchiveSinkRequiresDatabase(t *testing.T) {
	_, err := sink.NewArchiveSink(sink.Config{}, logger.Discard())
	require.Error(t, err)
}
