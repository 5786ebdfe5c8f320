package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braingenix/bglog/internal/engine"
)

type fakeSource struct {
	stats engine.Stats
	depth int
	spool int
	state engine.SinkState
}

func (f *fakeSource) Stats() engine.Stats     { return f.stats }
func (f *fakeSource) QueueDepth() int         { return f.depth }
func (f *fakeSource) SpoolPending() int       { return f.spool }
func (f *fakeSource) State() engine.SinkState { return f.state }

func TestRegisterExportsPipelineStats(t *testing.T) {
	src := &fakeSource{
		stats: engine.Stats{Logged: 12, Persisted: 9, Dropped: 1},
		depth: 3,
		spool: 2,
		state: engine.SinkBacklog,
	}
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, src))

	expected := `
# HELP bglog_records_logged_total Records passed to Log.
# TYPE bglog_records_logged_total counter
bglog_records_logged_total 12
# HELP bglog_records_persisted_total Records committed to the central store.
# TYPE bglog_records_persisted_total counter
bglog_records_persisted_total 9
# HELP bglog_queue_depth Records waiting in the record channel.
# TYPE bglog_queue_depth gauge
bglog_queue_depth 3
# HELP bglog_sink_state Store sink state: 0 disabled, 1 healthy, 2 backlog, 3 degraded.
# TYPE bglog_sink_state gauge
bglog_sink_state 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"bglog_records_logged_total",
		"bglog_records_persisted_total",
		"bglog_queue_depth",
		"bglog_sink_state",
	))

	// Values are read at scrape time.
	src.stats.Logged = 20
	n, err := testutil.GatherAndCount(reg, "bglog_records_logged_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP bglog_records_logged_total Records passed to Log.
# TYPE bglog_records_logged_total counter
bglog_records_logged_total 20
`), "bglog_records_logged_total"))
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg, &fakeSource{}))
	assert.Error(t, Register(reg, &fakeSource{}))
}
