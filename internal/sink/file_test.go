package sink_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

func numberSample(sender uuid.UUID, raw string) event.Sample {
	return event.Sample{
		Timestamp: time.Now().UTC(),
		Events: []event.DataEvent{
			event.New(sender, 0, "test/topic", event.ParseValue(raw), "V"),
		},
	}
}

func TestFileSinkWritesBannerHeaderAndData(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")
	fileSink, err := sink.NewFileSink(sink.Config{
		Filename:    filename,
		Version:     "2.1.0",
		Description: "PSU burn-in run 3",
	}, logger.Discard())
	require.NoError(t, err)

	queue, err := fileSink.Connect(context.Background())
	require.NoError(t, err)

	require.NoError(t, fileSink.WriteHeader([]string{"# DMM6500", "# Date,DMM6500"}))

	sender := uuid.New()
	queue.Put(numberSample(sender, "5.0"))
	queue.Put(numberSample(sender, "5.1"))

	require.NoError(t, fileSink.Shutdown(context.Background()))

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	require.Len(t, lines, 6)

	assert.Equal(t, "# This file was generated using datalogd v2.1.0.", lines[0])
	assert.Equal(t, "# Check https://github.com/PatrickBaus/data-logger for the latest version.", lines[1])
	assert.Equal(t, "# PSU burn-in run 3", lines[2])
	assert.Equal(t, "# DMM6500", lines[3])
	assert.Equal(t, "# Date,DMM6500", lines[4])

	// One CSV line per sample: timestamp, then the value verbatim.
	fields := strings.Split(lines[5], ",")
	require.Len(t, fields, 2)
	_, err = time.Parse(time.RFC3339Nano, fields[0])
	require.NoError(t, err, "first field must be an RFC 3339 timestamp")
	assert.Equal(t, "5.0", fields[1], "trailing zeros must survive into the log")
}

func TestFileSinkDataLinesInOrder(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")
	fileSink, err := sink.NewFileSink(sink.Config{Filename: filename, Version: "2.1.0"}, logger.Discard())
	require.NoError(t, err)

	queue, err := fileSink.Connect(context.Background())
	require.NoError(t, err)

	sender := uuid.New()
	for _, raw := range []string{"1.0", "2.0", "3.0"} {
		queue.Put(numberSample(sender, raw))
	}
	require.NoError(t, fileSink.Shutdown(context.Background()))

	content, err := os.ReadFile(filename)
	require.NoError(t, err)

	var values []string
	for _, line := range strings.Split(strings.TrimRight(string(content), "\n"), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ",")
		require.Len(t, fields, 2)
		values = append(values, fields[1])
	}
	assert.Equal(t, []string{"1.0", "2.0", "3.0"}, values, "delivery order must equal publish order")
}

func TestFileSinkHeaderWrittenOnce(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")
	fileSink, err := sink.NewFileSink(sink.Config{Filename: filename, Version: "2.1.0"}, logger.Discard())
	require.NoError(t, err)

	// Two connect/shutdown cycles, as after a device connection error.
	for i := 0; i < 2; i++ {
		_, err := fileSink.Connect(context.Background())
		require.NoError(t, err)
		require.NoError(t, fileSink.WriteHeader([]string{"# Date,DMM6500"}))
		require.NoError(t, fileSink.Shutdown(context.Background()))
	}

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "# Date,DMM6500"), "header must appear exactly once per file")
	assert.Equal(t, 1, strings.Count(string(content), "generated using datalogd"), "banner must appear exactly once per file")
}

func TestFileSinkDateTemplate(t *testing.T) {
	dir := t.TempDir()
	fileSink, err := sink.NewFileSink(sink.Config{
		Filename: filepath.Join(dir, "data_{date}.csv"),
		Version:  "2.1.0",
	}, logger.Discard())
	require.NoError(t, err)

	_, err = fileSink.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, fileSink.Shutdown(context.Background()))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.NotContains(t, name, "{date}", "placeholder must be expanded")
	assert.True(t, strings.HasPrefix(name, "data_"), "prefix must be preserved")
	assert.True(t, strings.HasSuffix(name, ".csv"), "suffix must be preserved")
}

func TestFactoryResolvesDrivers(t *testing.T) {
	factory := sink.NewFactory()
	for _, driver := range []string{"file", "mqtt", "sqlite"} {
		assert.True(t, factory.Has(driver), "driver %q must be registered", driver)
	}

	_, err := factory.New(sink.Config{Driver: "kafka"}, logger.Discard())
	require.Error(t, err)
	assert.Equal(t, sink.ErrUnknownDriver, errors.CodeOf(err))
}

func TestFileSinkRequiresFilename(t *testing.T) {
	_, err := sink.NewFileSink(sink.Config{}, logger.Discard())
	require.Error(t, err)
	assert.Equal(t, sink.ErrInvalidConfig, errors.CodeOf(err))
}
