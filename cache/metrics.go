package cache

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// operation results recorded in mongocache_operations_total
const (
	resultHit    = "hit"
	resultMiss   = "miss"
	resultOK     = "ok"
	resultFailed = "failed"
	resultError  = "error"
)

var metricSet = metrics.NewSet()

// WriteMetrics writes every cache counter in Prometheus text format.
func WriteMetrics(w io.Writer) {
	metricSet.WritePrometheus(w)
}

type cacheMetrics struct {
	collection string
}

func newCacheMetrics(collection string) *cacheMetrics {
	return &cacheMetrics{collection: collection}
}

func (m *cacheMetrics) operation(op, result string) {
	metricSet.GetOrCreateCounter(fmt.Sprintf(`mongocache_operations_total{collection=%q,op=%q,result=%q}`, m.collection, op, result)).Inc()
}

func (m *cacheMetrics) retry() {
	metricSet.GetOrCreateCounter(fmt.Sprintf(`mongocache_retries_total{collection=%q}`, m.collection)).Inc()
}

// operationCount returns the current value of an operations counter.
func (m *cacheMetrics) operationCount(op, result string) uint64 {
	return metricSet.GetOrCreateCounter(fmt.Sprintf(`mongocache_operations_total{collection=%q,op=%q,result=%q}`, m.collection, op, result)).Get()
}
