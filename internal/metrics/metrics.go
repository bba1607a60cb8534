// Package metrics keeps latency distributions of proxied methods.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/getsentry/proxyprof/internal/proxy"
	"github.com/getsentry/proxyprof/internal/quantile"
)

type (
	functionKey struct {
		class  string
		method string
	}

	// functionTimes keeps the last MaxSamples self times of a method in a
	// ring, next to running totals covering every call.
	functionTimes struct {
		selfTimes []float64
		next      int

		count  uint64
		errors uint64
		panics uint64
		sum    time.Duration
		worst  time.Duration
	}

	Aggregator struct {
		MaxUniqueFunctions uint
		MaxSamples         uint

		mu        sync.Mutex
		functions map[functionKey]*functionTimes
	}

	FunctionMetrics struct {
		Class  string        `json:"class"`
		Method string        `json:"method"`
		P75    time.Duration `json:"p75_ns"`
		P95    time.Duration `json:"p95_ns"`
		P99    time.Duration `json:"p99_ns"`
		Avg    time.Duration `json:"avg_ns"`
		Sum    time.Duration `json:"sum_ns"`
		Count  uint64        `json:"count"`
		Errors uint64        `json:"errors"`
		Panics uint64        `json:"panics"`
		Worst  time.Duration `json:"worst_ns"`
	}
)

var _ proxy.Observer = (*Aggregator)(nil)

func NewAggregator(maxUniqueFunctions uint, maxSamples uint) *Aggregator {
	return &Aggregator{
		MaxUniqueFunctions: maxUniqueFunctions,
		MaxSamples:         maxSamples,
		functions:          make(map[functionKey]*functionTimes),
	}
}

// ObserveCall records the self time of a completed call.
func (a *Aggregator) ObserveCall(e proxy.Event) {
	k := functionKey{class: e.Class, method: e.Method}

	a.mu.Lock()
	defer a.mu.Unlock()

	f, ok := a.functions[k]
	if !ok {
		f = &functionTimes{}
		a.functions[k] = f
	}
	f.count++
	f.sum += e.SelfTime
	if e.SelfTime > f.worst {
		f.worst = e.SelfTime
	}
	switch e.Outcome {
	case proxy.OutcomeError:
		f.errors++
	case proxy.OutcomePanic:
		f.panics++
	}
	if a.MaxSamples == 0 {
		return
	}
	if len(f.selfTimes) < int(a.MaxSamples) {
		f.selfTimes = append(f.selfTimes, float64(e.SelfTime))
		return
	}
	f.selfTimes[f.next] = float64(e.SelfTime)
	f.next = (f.next + 1) % len(f.selfTimes)
}

// ToMetrics returns the metrics of the methods of class, the ones with the
// most self time first, at most MaxUniqueFunctions of them.
func (a *Aggregator) ToMetrics(class string) []FunctionMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics := make([]FunctionMetrics, 0)
	for k, f := range a.functions {
		if k.class != class {
			continue
		}
		q := quantile.Quantile{Xs: f.selfTimes}.Copy().Sort()
		metrics = append(metrics, FunctionMetrics{
			Class:  k.class,
			Method: k.method,
			P75:    time.Duration(q.Percentile(0.75)),
			P95:    time.Duration(q.Percentile(0.95)),
			P99:    time.Duration(q.Percentile(0.99)),
			Avg:    f.sum / time.Duration(f.count),
			Sum:    f.sum,
			Count:  f.count,
			Errors: f.errors,
			Panics: f.panics,
			Worst:  f.worst,
		})
	}
	sort.Slice(metrics, func(i, j int) bool {
		if metrics[i].Sum != metrics[j].Sum {
			return metrics[i].Sum > metrics[j].Sum
		}
		return metrics[i].Method < metrics[j].Method
	})
	if a.MaxUniqueFunctions > 0 && len(metrics) > int(a.MaxUniqueFunctions) {
		metrics = metrics[:a.MaxUniqueFunctions]
	}
	return metrics
}

// Reset drops the metrics of class.
func (a *Aggregator) Reset(class string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k := range a.functions {
		if k.class == class {
			delete(a.functions, k)
		}
	}
}
