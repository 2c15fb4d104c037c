package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NilRegistry(t *testing.T) {
	m := New(nil)
	assert.Nil(t, m)

	// every recorder tolerates a nil receiver
	assert.NotPanics(t, func() {
		m.IngestResult(ResultOK)
		m.Broadcast(3)
		m.Subscribers(2)
		m.Evicted("overflow")
		m.ObserveSweep(time.Second, 4, nil)
		m.RelayResult(ResultError)
	})
}

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	require.NotNil(t, m)

	m.IngestResult(ResultOK)
	m.IngestResult(ResultOK)
	m.IngestResult(ResultInvalid)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.readingsIngested.WithLabelValues(ResultOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.readingsIngested.WithLabelValues(ResultInvalid)))

	m.Broadcast(3)
	m.Broadcast(0)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.broadcasts))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.deliveries))

	m.Subscribers(5)
	m.Subscribers(4)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.subscribers))

	m.Evicted("overflow")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evictions.WithLabelValues("overflow")))
}

func TestMetrics_ObserveSweep(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSweep(10*time.Millisecond, 7, nil)
	m.ObserveSweep(10*time.Millisecond, 0, errors.New("store down"))

	assert.Equal(t, 7.0, testutil.ToFloat64(m.sweepDeleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.sweepDuration))
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}
