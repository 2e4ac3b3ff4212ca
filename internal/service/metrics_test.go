package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poglesbyg/tracseq2.0-sub001/internal/domain"
	"github.com/poglesbyg/tracseq2.0-sub001/internal/saga"
)

// collectMetric returns the first metric from c whose labels include all of
// labels, or nil.
func collectMetric(t *testing.T, c prometheus.Collector, labels map[string]string) *dto.Metric {
	t.Helper()
	ch := make(chan prometheus.Metric, 100)
	c.Collect(ch)
	close(ch)

	for m := range ch {
		d := &dto.Metric{}
		if err := m.Write(d); err != nil {
			continue
		}
		match := true
		for k, v := range labels {
			found := false
			for _, lp := range d.GetLabel() {
				if lp.GetName() == k && lp.GetValue() == v {
					found = true
					break
				}
			}
			if !found {
				match = false
				break
			}
		}
		if match {
			return d
		}
	}
	return nil
}

func TestMetrics_RecordedPerTransactionType(t *testing.T) {
	c := newCoordinator(nil, nil, 10)

	req := newRequest()
	req.TransactionType = "metrics_probe"
	sg := newSaga(t,
		&saga.Step{Name: domain.StepReserveSample, Action: ok, Compensation: ok},
		&saga.Step{Name: domain.StepAllocateStorage, Action: fail("storage full")},
	)

	res, err := c.ExecuteTransaction(context.Background(), req, sg)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompensated, res.Status)

	started := collectMetric(t, transactionsStarted, map[string]string{"type": "metrics_probe"})
	require.NotNil(t, started)
	assert.Equal(t, float64(1), started.GetCounter().GetValue())

	finished := collectMetric(t, transactionsFinished, map[string]string{"type": "metrics_probe", "status": domain.StatusCompensated})
	require.NotNil(t, finished)
	assert.Equal(t, float64(1), finished.GetCounter().GetValue())

	duration := collectMetric(t, executionDuration, map[string]string{"type": "metrics_probe", "status": domain.StatusCompensated})
	require.NotNil(t, duration)
	assert.Equal(t, uint64(1), duration.GetHistogram().GetSampleCount())
}
