package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordInsert()
	c.RecordInsert()
	c.RecordDelete()
	c.SetVectorCount(1)

	s := c.Summary()
	assert.EqualValues(t, 2, s.TotalInserts)
	assert.EqualValues(t, 1, s.TotalDeletes)
	assert.EqualValues(t, 0, s.TotalQueries)
	assert.Equal(t, 1, s.VectorCount)
}

func TestCollectorLatencyPercentiles(t *testing.T) {
	c := NewCollector()

	c.RecordQuery(100 * time.Microsecond)
	c.RecordQuery(200 * time.Microsecond)
	c.RecordQuery(300 * time.Microsecond)

	s := c.Summary()
	assert.EqualValues(t, 3, s.TotalQueries)
	assert.InDelta(t, 200, s.AvgQueryLatencyUs, 1)
	assert.InDelta(t, 200, s.P50QueryLatencyUs, 1)
	assert.InDelta(t, 300, s.P99QueryLatencyUs, 1)
}

func TestCollectorEmptySummary(t *testing.T) {
	c := NewCollector()
	s := c.Summary()

	assert.Zero(t, s.AvgQueryLatencyUs)
	assert.Zero(t, s.P99QueryLatencyUs)
}

func TestCollectorPrometheusRegistry(t *testing.T) {
	c := NewCollector()
	c.RecordInsert()
	c.SetVectorCount(5)

	families, err := c.Registry().Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)

	v := testutil.ToFloat64(c.vectors)
	assert.Equal(t, 5.0, v)
}
