package ledger

import (
	"math/big"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveOp_IncrementsCounter(t *testing.T) {
	LedgerOpsTotal.Reset()

	done := observeOp("test_op")
	done()

	m := &dto.Metric{}
	counter, err := LedgerOpsTotal.GetMetricWithLabelValues("test_op")
	require.NoError(t, err)
	require.NoError(t, counter.Write(m))
	assert.Equal(t, 1.0, m.Counter.GetValue())
}

func TestObserveOp_ObservesHistogram(t *testing.T) {
	LedgerOpDuration.Reset()

	done := observeOp("hist_test")
	done()

	ch := make(chan prometheus.Metric, 10)
	LedgerOpDuration.Collect(ch)
	close(ch)

	found := false
	for metric := range ch {
		m := &dto.Metric{}
		_ = metric.Write(m)
		if m.Histogram != nil && m.Histogram.GetSampleCount() == 1 {
			found = true
		}
	}
	assert.True(t, found, "expected histogram with 1 sample")
}

func TestWeiToEther(t *testing.T) {
	wei, _ := new(big.Int).SetString("10000000000000000", 10)
	assert.InDelta(t, 0.01, weiToEther(wei), 1e-12)
	assert.Equal(t, 0.0, weiToEther(big.NewInt(0)))
}
