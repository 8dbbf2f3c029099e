package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestResult(t *testing.T) {
	assert.Equal(t, "success", Result(nil))
	assert.Equal(t, "error", Result(errors.New("boom")))
}

func TestCollectorsRegistered(t *testing.T) {
	before := testutil.ToFloat64(ChunksTotal.WithLabelValues("tagged"))
	ChunksTotal.WithLabelValues("tagged").Add(3)
	assert.Equal(t, before+3, testutil.ToFloat64(ChunksTotal.WithLabelValues("tagged")))

	before = testutil.ToFloat64(VectorsUpserted)
	VectorsUpserted.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(VectorsUpserted))
}
