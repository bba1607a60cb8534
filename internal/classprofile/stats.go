package classprofile

import (
	"fmt"
	"sort"
	"time"

	"github.com/getsentry/proxyprof/internal/nodetree"
)

type (
	FlatStat struct {
		Method    string        `json:"method"`
		Calls     uint64        `json:"calls"`
		TotalTime time.Duration `json:"total_time_ns"`
		AvgTime   time.Duration `json:"avg_time_ns"`
	}

	TreeStat struct {
		Level   int           `json:"level"`
		Method  string        `json:"method"`
		Calls   uint64        `json:"calls"`
		Time    time.Duration `json:"time_ns"`
		Percent float64       `json:"percent"`
	}

	treeOptions struct {
		byTime bool
	}

	TreeOption func(*treeOptions)
)

// OrderByTime lists siblings by decreasing total time instead of the order
// in which they were first seen. "(body)" stays last.
func OrderByTime() TreeOption {
	return func(o *treeOptions) {
		o.byTime = true
	}
}

// FlatStats returns one entry per method, in the order methods first
// completed a call.
func (p *ClassProfile) FlatStats() []FlatStat {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := make([]FlatStat, 0, len(p.flat))
	for _, r := range p.flat {
		stats = append(stats, FlatStat{
			Method:    r.method,
			Calls:     r.calls,
			TotalTime: r.totalTime,
			AvgTime:   r.totalTime / time.Duration(r.calls),
		})
	}
	return stats
}

// SortFlatStats sorts stats in place. Numeric keys sort in decreasing order,
// method names in increasing order; ties keep their current order.
func SortFlatStats(stats []FlatStat, key string) error {
	var less func(a, b FlatStat) bool
	switch key {
	case "", "seen":
		return nil
	case "method":
		less = func(a, b FlatStat) bool { return a.Method < b.Method }
	case "calls":
		less = func(a, b FlatStat) bool { return a.Calls > b.Calls }
	case "total":
		less = func(a, b FlatStat) bool { return a.TotalTime > b.TotalTime }
	case "avg":
		less = func(a, b FlatStat) bool { return a.AvgTime > b.AvgTime }
	default:
		return fmt.Errorf("classprofile: unknown sort key %q", key)
	}
	sort.SliceStable(stats, func(i, j int) bool {
		return less(stats[i], stats[j])
	})
	return nil
}

// TreeStats flattens the call tree depth first, parents before their
// children. Root percentages are relative to the time of all roots combined,
// other percentages to the parent's time. Each node is followed by its
// children and then, if the children do not account for all of its time, a
// "(body)" entry holding the remainder.
func (p *ClassProfile) TreeStats(opts ...TreeOption) []TreeStat {
	var o treeOptions
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	var total time.Duration
	for _, r := range p.root.children {
		total += r.totalTime
	}

	var stats []TreeStat
	for _, r := range o.ordered(p.root.children) {
		stats = appendTreeStats(stats, r, 0, total, o)
	}
	return stats
}

func appendTreeStats(stats []TreeStat, n *treeNode, level int, reference time.Duration, o treeOptions) []TreeStat {
	stats = append(stats, TreeStat{
		Level:   level,
		Method:  n.method,
		Calls:   n.calls,
		Time:    n.totalTime,
		Percent: percent(n.totalTime, reference),
	})

	var childrenTime time.Duration
	for _, c := range o.ordered(n.children) {
		childrenTime += c.totalTime
		stats = appendTreeStats(stats, c, level+1, n.totalTime, o)
	}

	if body := n.totalTime - childrenTime; body > 0 {
		stats = append(stats, TreeStat{
			Level:   level + 1,
			Method:  BodyMethod,
			Calls:   n.calls,
			Time:    body,
			Percent: percent(body, n.totalTime),
		})
	}
	return stats
}

func (o treeOptions) ordered(nodes []*treeNode) []*treeNode {
	if !o.byTime || len(nodes) < 2 {
		return nodes
	}
	sorted := make([]*treeNode, len(nodes))
	copy(sorted, nodes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].totalTime > sorted[j].totalTime
	})
	return sorted
}

func percent(part, whole time.Duration) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100.0
}

// Tree returns a copy of the call tree as nested nodes, one per top level
// method, in first-seen order.
func (p *ClassProfile) Tree() []*nodetree.Node {
	p.mu.RLock()
	defer p.mu.RUnlock()

	roots := make([]*nodetree.Node, 0, len(p.root.children))
	for _, r := range p.root.children {
		roots = append(roots, copyTree(nil, r))
	}
	return roots
}

func copyTree(parent *nodetree.Node, n *treeNode) *nodetree.Node {
	node := nodetree.NodeFromCall(parent, n.method, n.calls, uint64(n.totalTime))
	for _, c := range n.children {
		node.AddChild(copyTree(node, c))
	}
	return node
}
