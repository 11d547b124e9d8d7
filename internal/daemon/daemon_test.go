package daemon_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PatrickBaus/data-logger/internal/daemon"
	"github.com/PatrickBaus/data-logger/internal/device"
	"github.com/PatrickBaus/data-logger/internal/errors"
	"github.com/PatrickBaus/data-logger/internal/event"
	"github.com/PatrickBaus/data-logger/internal/logger"
	"github.com/PatrickBaus/data-logger/internal/sink"
)

// flakyDevice drops its connection after a scripted number of reads, then
// behaves on every later session.
type flakyDevice struct {
	id        uuid.UUID
	failAfter int

	mu       sync.Mutex
	connects int
	reads    int
}

func (d *flakyDevice) Connect(context.Context) error {
	d.mu.Lock()
	d.connects++
	d.mu.Unlock()

	return nil
}

func (d *flakyDevice) Disconnect() error                { return nil }
func (d *flakyDevice) Initialize(context.Context) error { return nil }

func (d *flakyDevice) Read(context.Context) ([]event.DataEvent, error) {
	d.mu.Lock()
	d.reads++
	fail := d.reads == d.failAfter
	round := d.reads
	d.mu.Unlock()

	if fail {
		return nil, errors.New().New(device.ErrConnectionLost)
	}

	return []event.DataEvent{
		event.New(d.id, 0, "sensors/flaky", event.NumberValue(float64(round)), "V"),
	}, nil
}

func (d *flakyDevice) PostRead(context.Context) error            { return nil }
func (d *flakyDevice) LogHeader(context.Context) (string, error) { return "flaky: test device", nil }
func (d *flakyDevice) ID(context.Context) (string, error)        { return "FAKE,flaky", nil }
func (d *flakyDevice) UUID() uuid.UUID                           { return d.id }
func (d *flakyDevice) Name() string                              { return "flaky" }
func (d *flakyDevice) BaseTopic() string                         { return "sensors/flaky" }
func (d *flakyDevice) ColumnNames() []string                     { return []string{"flaky"} }

func (d *flakyDevice) connectCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.connects
}

func newFileSink(t *testing.T, filename string) *sink.FileSink {
	t.Helper()

	fileSink, err := sink.NewFileSink(sink.Config{
		Filename: filename,
		Version:  "2.1.0",
	}, logger.Discard())
	require.NoError(t, err)

	return fileSink
}

func TestDaemonLogsToFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")
	fileSink := newFileSink(t, filename)

	factory := device.NewFactory()
	registry := device.NewRegistry()
	sim, err := factory.New(device.Config{
		Driver:       "simulation",
		Name:         "sim",
		UUID:         uuid.New(),
		BaseTopic:    "sensors/sim",
		InitialValue: 10,
	}, logger.Discard())
	require.NoError(t, err)
	registry.Add(sim)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	d := daemon.New(registry, []sink.Sink{fileSink}, 10*time.Millisecond, logger.Discard())
	require.NoError(t, d.Run(ctx), "a context timeout is a clean shutdown")

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")

	var headers, data []string
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			headers = append(headers, line)
		} else {
			data = append(data, line)
		}
	}

	require.NotEmpty(t, data, "the file must contain measurement lines")
	assert.Contains(t, headers, "# Date,sim", "the column header names every device column")
	assert.Contains(t, strings.Join(headers, "\n"), "# Log started at UTC:")
	assert.Contains(t, strings.Join(headers, "\n"), "simulated random walk")

	for _, line := range data {
		fields := strings.Split(line, ",")
		require.Len(t, fields, 2, "timestamp plus one column")
		_, err := time.Parse(time.RFC3339Nano, fields[0])
		assert.NoError(t, err)
	}
}

func TestDaemonRestartsSessionOnConnectionError(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "out.csv")
	fileSink := newFileSink(t, filename)

	dev := &flakyDevice{id: uuid.New(), failAfter: 2}
	registry := device.NewRegistry()
	registry.Add(dev)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	d := daemon.New(registry, []sink.Sink{fileSink}, 5*time.Millisecond, logger.Discard())
	require.NoError(t, d.Run(ctx))

	assert.GreaterOrEqual(t, dev.connectCount(), 2,
		"a lost connection must tear down the session and reconnect")

	content, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "# Date,flaky"),
		"the restarted session must not repeat the header")
	assert.Equal(t, 1, strings.Count(string(content), "generated using datalogd"))
}

func TestDaemonPropagatesNonConnectionErrors(t *testing.T) {
	registry := device.NewRegistry()
	registry.Add(&flakyDevice{id: uuid.New()})

	failing := &failingSink{}
	d := daemon.New(registry, []sink.Sink{failing}, time.Millisecond, logger.Discard())

	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, sink.ErrOpenFailed, errors.CodeOf(err), "sink failures must not loop the daemon")
}

type failingSink struct{}

func (s *failingSink) Connect(context.Context) (*sink.Queue, error) {
	return nil, errors.New().New(sink.ErrOpenFailed)
}

func (s *failingSink) Shutdown(context.Context) error { return nil }
func (s *failingSink) Driver() string                 { return "failing" }
