package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMustRegisterExposesCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustRegister(reg)

	SendsTotal.WithLabelValues("sent").Inc()
	TrackingHitsTotal.WithLabelValues("open", "false").Inc()

	n, err := testutil.GatherAndCount(reg, "mailer_sends_total", "mailer_tracking_hits_total")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Panics(t, func() { MustRegister(reg) })
}
