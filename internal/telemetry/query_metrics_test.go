package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		hasVector bool
		hasText   bool
		want      QueryType
	}{
		{true, true, QueryTypeHybrid},
		{true, false, QueryTypeVector},
		{false, true, QueryTypeKeyword},
		{false, false, QueryTypeKeyword},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.hasVector, tt.hasText))
	}
}

func TestLatencyToBucket(t *testing.T) {
	tests := []struct {
		latency time.Duration
		want    LatencyBucket
	}{
		{0, BucketP10},
		{9 * time.Millisecond, BucketP10},
		{10 * time.Millisecond, BucketP50},
		{49 * time.Millisecond, BucketP50},
		{50 * time.Millisecond, BucketP100},
		{99 * time.Millisecond, BucketP100},
		{100 * time.Millisecond, BucketP500},
		{499 * time.Millisecond, BucketP500},
		{500 * time.Millisecond, BucketP1000},
		{3 * time.Second, BucketP1000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LatencyToBucket(tt.latency), "latency %v", tt.latency)
	}
}

func TestExtractTerms(t *testing.T) {
	tests := []struct {
		query string
		want  []string
	}{
		{"", nil},
		{"   ", nil},
		{"Invoice Total", []string{"invoice", "total"}},
		{"a an of", nil},
		{"the big contract", []string{"the", "big", "contract"}},
		{"Q4 REVENUE report", []string{"revenue", "report"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractTerms(tt.query), "query %q", tt.query)
	}
}

func TestCircularBuffer(t *testing.T) {
	b := NewCircularBuffer[string](3)
	assert.Equal(t, 0, b.Size())
	assert.Nil(t, b.Items())

	b.Add("a")
	b.Add("b")
	assert.Equal(t, []string{"a", "b"}, b.Items())

	// Filling past capacity evicts the oldest entries.
	b.Add("c")
	b.Add("d")
	assert.Equal(t, 3, b.Size())
	assert.Equal(t, []string{"b", "c", "d"}, b.Items())

	b.Add("e")
	assert.Equal(t, []string{"c", "d", "e"}, b.Items())

	b.Clear()
	assert.Equal(t, 0, b.Size())
	assert.Nil(t, b.Items())
}

func TestCircularBuffer_ZeroCapacityFallsBack(t *testing.T) {
	b := NewCircularBuffer[int](0)
	b.Add(1)
	assert.Equal(t, 1, b.Size())
}

func TestQueryMetrics_RecordAndSnapshot(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, Config{FlushInterval: 0})

	m.Record(QueryEvent{
		Query:       "invoice total amount",
		Type:        QueryTypeHybrid,
		ResultCount: 5,
		Latency:     12 * time.Millisecond,
	})
	m.Record(QueryEvent{
		Query:       "invoice date",
		Type:        QueryTypeKeyword,
		ResultCount: 0,
		Latency:     3 * time.Millisecond,
	})
	m.Record(QueryEvent{
		Query:       "invoice total",
		Type:        QueryTypeHybrid,
		ResultCount: 2,
		Latency:     700 * time.Millisecond,
	})

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalQueries)
	assert.Equal(t, int64(2), snap.QueryTypeCounts[QueryTypeHybrid])
	assert.Equal(t, int64(1), snap.QueryTypeCounts[QueryTypeKeyword])
	assert.Equal(t, int64(1), snap.ZeroResultCount)
	assert.Equal(t, []string{"invoice date"}, snap.ZeroResultQueries)

	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP10])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP50])
	assert.Equal(t, int64(1), snap.LatencyDistribution[BucketP1000])

	// "invoice" appeared in all three queries and sorts first.
	require.NotEmpty(t, snap.TopTerms)
	assert.Equal(t, "invoice", snap.TopTerms[0].Term)
	assert.Equal(t, int64(3), snap.TopTerms[0].Count)

	assert.InDelta(t, 33.33, snap.ZeroResultPercentage(), 0.1)
}

func TestQueryMetrics_ZeroResultPercentageEmpty(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, Config{FlushInterval: 0})
	assert.Zero(t, m.Snapshot().ZeroResultPercentage())
}

func TestQueryMetrics_RecordAfterCloseIgnored(t *testing.T) {
	m := NewQueryMetricsWithConfig(nil, Config{FlushInterval: 0})
	require.NoError(t, m.Close())

	m.Record(QueryEvent{Query: "late", Type: QueryTypeKeyword, ResultCount: 1})
	assert.Equal(t, int64(0), m.Snapshot().TotalQueries)

	// Closing twice is fine.
	require.NoError(t, m.Close())
}
