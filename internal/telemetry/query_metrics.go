// Package telemetry collects local query metrics: query type mix,
// latency distribution, frequent terms, and zero-result queries. All
// of it stays in the metadata database on this machine; nothing is
// ever reported externally.
package telemetry

import (
	"context"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// QueryType classifies a search query by which rankers it engaged.
type QueryType string

const (
	// QueryTypeVector is a query served by the vector index alone.
	QueryTypeVector QueryType = "vector"
	// QueryTypeKeyword is a query served by the keyword index alone.
	QueryTypeKeyword QueryType = "keyword"
	// QueryTypeHybrid is a query that ran both rankers.
	QueryTypeHybrid QueryType = "hybrid"
)

// Classify maps the request shape to a query type.
func Classify(hasVector, hasText bool) QueryType {
	switch {
	case hasVector && hasText:
		return QueryTypeHybrid
	case hasVector:
		return QueryTypeVector
	default:
		return QueryTypeKeyword
	}
}

// LatencyBucket is one histogram bucket of query latency.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// QueryEvent is one search query as seen by the collector.
type QueryEvent struct {
	Query       string
	Type        QueryType
	ResultCount int
	Latency     time.Duration
	Timestamp   time.Time
}

// IsZeroResult reports whether the query came back empty.
func (e QueryEvent) IsZeroResult() bool {
	return e.ResultCount == 0
}

// ExtractTerms returns the lowercased query words of length >= 3, in
// order. Short words carry too little signal to be worth counting.
func ExtractTerms(query string) []string {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}
	var terms []string
	for _, w := range strings.Fields(query) {
		if len(w) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// TermCount is a query term with its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// CircularBuffer is a fixed-capacity FIFO buffer. When full, adding
// evicts the oldest item.
type CircularBuffer[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int
	size     int
	capacity int
}

// NewCircularBuffer creates a buffer with the given capacity.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.size == 0 {
		return nil
	}
	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	copy(out, b.items[b.head:])
	copy(out[b.capacity-b.head:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// Clear empties the buffer.
func (b *CircularBuffer[T]) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.size = 0
}

// Snapshot is an immutable view of the collector since it started.
type Snapshot struct {
	QueryTypeCounts     map[QueryType]int64     `json:"query_type_counts"`
	TopTerms            []TermCount             `json:"top_terms"`
	ZeroResultQueries   []string                `json:"zero_result_queries"`
	LatencyDistribution map[LatencyBucket]int64 `json:"latency_distribution"`
	TotalQueries        int64                   `json:"total_queries"`
	ZeroResultCount     int64                   `json:"zero_result_count"`
	Since               time.Time               `json:"since"`
}

// ZeroResultPercentage returns the share of queries that found nothing.
func (s *Snapshot) ZeroResultPercentage() float64 {
	if s.TotalQueries == 0 {
		return 0
	}
	return float64(s.ZeroResultCount) / float64(s.TotalQueries) * 100
}

// ZeroResultQuery is one query that found nothing, with when it ran.
type ZeroResultQuery struct {
	Query string
	At    time.Time
}

// Store persists aggregated metrics. Counts are written as deltas:
// each save adds to what is already stored, and the collector hands
// over only what accumulated since the previous flush.
type Store interface {
	SaveQueryTypeCounts(ctx context.Context, date string, counts map[QueryType]int64) error
	UpsertTermCounts(ctx context.Context, terms map[string]int64) error
	AddZeroResultQueries(ctx context.Context, queries []ZeroResultQuery) error
	SaveLatencyCounts(ctx context.Context, date string, counts map[LatencyBucket]int64) error

	GetQueryTypeCounts(ctx context.Context, from, to string) (map[QueryType]int64, error)
	GetTopTerms(ctx context.Context, limit int) ([]TermCount, error)
	GetZeroResultQueries(ctx context.Context, limit int) ([]string, error)
	GetLatencyCounts(ctx context.Context, from, to string) (map[LatencyBucket]int64, error)

	Close() error
}

// Config tunes the collector.
type Config struct {
	// TopTermsCapacity bounds how many distinct terms are tracked.
	TopTermsCapacity int
	// ZeroResultsCapacity bounds the zero-result query buffer.
	ZeroResultsCapacity int
	// FlushInterval is how often pending counts reach the store.
	// Zero disables the background flush; Flush can still be called.
	FlushInterval time.Duration
}

// DefaultConfig returns the collector defaults.
func DefaultConfig() Config {
	return Config{
		TopTermsCapacity:    100,
		ZeroResultsCapacity: 100,
		FlushInterval:       60 * time.Second,
	}
}

// QueryMetrics aggregates query telemetry in memory and periodically
// flushes deltas to a Store. Safe for concurrent use. With a nil
// store, metrics live only in memory.
type QueryMetrics struct {
	mu sync.Mutex

	queryTypes      map[QueryType]int64
	latencies       map[LatencyBucket]int64
	topTerms        *lru.Cache[string, int64]
	zeroResults     *CircularBuffer[string]
	totalQueries    int64
	zeroResultCount int64
	startTime       time.Time

	// Unflushed deltas. Swapped out under the lock at flush time so a
	// repeated flush can never double-count.
	pendingTypes     map[QueryType]int64
	pendingLatencies map[LatencyBucket]int64
	pendingTerms     map[string]int64
	pendingZero      []ZeroResultQuery

	store  Store
	cfg    Config
	ticker *time.Ticker
	stopCh chan struct{}
	closed bool
}

// NewQueryMetrics creates a collector with default configuration.
func NewQueryMetrics(store Store) *QueryMetrics {
	return NewQueryMetricsWithConfig(store, DefaultConfig())
}

// NewQueryMetricsWithConfig creates a collector. Zero capacities fall
// back to the defaults.
func NewQueryMetricsWithConfig(store Store, cfg Config) *QueryMetrics {
	if cfg.TopTermsCapacity <= 0 {
		cfg.TopTermsCapacity = 100
	}
	if cfg.ZeroResultsCapacity <= 0 {
		cfg.ZeroResultsCapacity = 100
	}

	topTerms, _ := lru.New[string, int64](cfg.TopTermsCapacity)
	m := &QueryMetrics{
		queryTypes:       make(map[QueryType]int64),
		latencies:        make(map[LatencyBucket]int64),
		topTerms:         topTerms,
		zeroResults:      NewCircularBuffer[string](cfg.ZeroResultsCapacity),
		startTime:        time.Now(),
		pendingTypes:     make(map[QueryType]int64),
		pendingLatencies: make(map[LatencyBucket]int64),
		pendingTerms:     make(map[string]int64),
		store:            store,
		cfg:              cfg,
		stopCh:           make(chan struct{}),
	}

	if cfg.FlushInterval > 0 && store != nil {
		m.ticker = time.NewTicker(cfg.FlushInterval)
		go m.flushLoop()
	}
	return m
}

func (m *QueryMetrics) flushLoop() {
	for {
		select {
		case <-m.ticker.C:
			_ = m.Flush(context.Background())
		case <-m.stopCh:
			return
		}
	}
}

// Record captures one query. Cheap and non-blocking; call it on the
// search path.
func (m *QueryMetrics) Record(event QueryEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}

	m.queryTypes[event.Type]++
	m.pendingTypes[event.Type]++
	m.totalQueries++

	for _, term := range ExtractTerms(event.Query) {
		count, _ := m.topTerms.Get(term)
		m.topTerms.Add(term, count+1)
		m.pendingTerms[term]++
	}

	if event.IsZeroResult() {
		m.zeroResults.Add(event.Query)
		m.zeroResultCount++
		at := event.Timestamp
		if at.IsZero() {
			at = time.Now()
		}
		m.pendingZero = append(m.pendingZero, ZeroResultQuery{Query: event.Query, At: at})
		if len(m.pendingZero) > m.cfg.ZeroResultsCapacity {
			m.pendingZero = m.pendingZero[1:]
		}
	}

	bucket := LatencyToBucket(event.Latency)
	m.latencies[bucket]++
	m.pendingLatencies[bucket]++
}

// Snapshot returns the metrics accumulated since the collector
// started, regardless of what has been flushed.
func (m *QueryMetrics) Snapshot() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	typeCounts := make(map[QueryType]int64, len(m.queryTypes))
	for k, v := range m.queryTypes {
		typeCounts[k] = v
	}
	latencies := make(map[LatencyBucket]int64, len(m.latencies))
	for k, v := range m.latencies {
		latencies[k] = v
	}

	terms := make([]TermCount, 0, m.topTerms.Len())
	for _, key := range m.topTerms.Keys() {
		if count, ok := m.topTerms.Peek(key); ok {
			terms = append(terms, TermCount{Term: key, Count: count})
		}
	}
	sortTermCounts(terms)

	return &Snapshot{
		QueryTypeCounts:     typeCounts,
		TopTerms:            terms,
		ZeroResultQueries:   m.zeroResults.Items(),
		LatencyDistribution: latencies,
		TotalQueries:        m.totalQueries,
		ZeroResultCount:     m.zeroResultCount,
		Since:               m.startTime,
	}
}

func sortTermCounts(terms []TermCount) {
	for i := 0; i < len(terms); i++ {
		for j := i + 1; j < len(terms); j++ {
			if terms[j].Count > terms[i].Count ||
				(terms[j].Count == terms[i].Count && terms[j].Term < terms[i].Term) {
				terms[i], terms[j] = terms[j], terms[i]
			}
		}
	}
}

// Flush writes everything accumulated since the last flush to the
// store. A no-op with a nil store. The pending counters are taken
// before the writes, so a failed write loses that window rather than
// double-counting a later one.
func (m *QueryMetrics) Flush(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	m.mu.Lock()
	types := m.pendingTypes
	latencies := m.pendingLatencies
	terms := m.pendingTerms
	zero := m.pendingZero
	m.pendingTypes = make(map[QueryType]int64)
	m.pendingLatencies = make(map[LatencyBucket]int64)
	m.pendingTerms = make(map[string]int64)
	m.pendingZero = nil
	m.mu.Unlock()

	today := time.Now().Format("2006-01-02")

	if len(types) > 0 {
		if err := m.store.SaveQueryTypeCounts(ctx, today, types); err != nil {
			return err
		}
	}
	if len(terms) > 0 {
		if err := m.store.UpsertTermCounts(ctx, terms); err != nil {
			return err
		}
	}
	if len(latencies) > 0 {
		if err := m.store.SaveLatencyCounts(ctx, today, latencies); err != nil {
			return err
		}
	}
	if len(zero) > 0 {
		if err := m.store.AddZeroResultQueries(ctx, zero); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the background flush and writes out what remains.
func (m *QueryMetrics) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if m.ticker != nil {
		m.ticker.Stop()
		close(m.stopCh)
	}
	return m.Flush(context.Background())
}
