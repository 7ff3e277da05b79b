package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestNewRegistersAllCollectorsOnGivenRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg)

	r.LiveConnections.Inc()
	r.ConnectionsByProtocol.WithLabelValues("tcp").Inc()
	r.BusSubscribers.Set(3)
	r.BusLagged.Inc()
	r.FramesRead.WithLabelValues("tcp").Inc()
	r.FramesWritten.WithLabelValues("ws").Inc()
	r.OperationErrors.WithLabelValues("SendMessage", "validation_failed").Inc()
	r.OperationLatency.WithLabelValues("SendMessage").Observe(0.01)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert_namesPresent(t, families, []string{
		"lairchat_live_connections",
		"lairchat_connections_by_protocol",
		"lairchat_operation_latency_seconds",
		"lairchat_operation_errors_total",
		"lairchat_bus_subscribers",
		"lairchat_bus_lagged_events_total",
		"lairchat_frames_read_total",
		"lairchat_frames_written_total",
	})

	require.Equal(t, float64(1), gaugeValue(t, r.LiveConnections))
	require.Equal(t, float64(3), gaugeValue(t, r.BusSubscribers))
}

func assert_namesPresent(t *testing.T, families []*dto.MetricFamily, names []string) {
	t.Helper()
	seen := make(map[string]bool, len(families))
	for _, f := range families {
		seen[f.GetName()] = true
	}
	for _, name := range names {
		require.True(t, seen[name], "expected metric family %q to be registered", name)
	}
}

func TestNewFallsBackToDefaultRegistererWhenNil(t *testing.T) {
	r := New(nil)
	require.NotNil(t, r.LiveConnections)
}
