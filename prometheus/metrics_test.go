package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectorsRegisterPerRegistry(t *testing.T) {
	// Two independent registries must not collide
	m1 := New("commerce", prometheus.NewRegistry())
	m2 := New("commerce", prometheus.NewRegistry())

	m1.RecordFrame("login", OutcomeOK, time.Now())
	m1.RecordAuthAttempt(false)
	m2.RecordOrderTransition("PAID")

	assert.Equal(t, 1.0, testutil.ToFloat64(m1.FramesTotal.WithLabelValues("login", OutcomeOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m1.AuthAttemptsCounter.WithLabelValues(OutcomeFailed)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m1.OrderTransitions.WithLabelValues("PAID")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m2.OrderTransitions.WithLabelValues("PAID")))
}

func TestTrackDBOperation(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New("commerce", reg)

	m.TrackDBOperation("update")(time.Now().Add(-10 * time.Millisecond))

	count, err := testutil.GatherAndCount(reg, "commerce_db_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
