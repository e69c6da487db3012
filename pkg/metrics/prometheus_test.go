package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorderCounts(t *testing.T) {
	r := NewWithRegisterer(prometheus.NewRegistry())

	r.RecordRecords("train", 3)
	r.RecordRecords("train", 2)
	r.RecordRemoteCall("invoke_endpoint", 10*time.Millisecond, nil)
	r.RecordRemoteCall("invoke_endpoint", 10*time.Millisecond, errors.New("boom"))
	r.RecordCacheLookup(true)
	r.RecordCacheLookup(false)
	r.RecordCacheLookup(false)
	r.RecordForecast("SAP")

	assert.Equal(t, 5.0, testutil.ToFloat64(r.recordsWritten.WithLabelValues("train")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.remoteCalls.WithLabelValues("invoke_endpoint", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.forecastsServed.WithLabelValues("SAP")))
}
