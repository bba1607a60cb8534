// Package classprofile accumulates call statistics for one class: a flat
// per-method table and a tree keyed by call path. Every proxy of a class
// shares the same ClassProfile.
package classprofile

import (
	"sync"
	"time"

	"github.com/getsentry/proxyprof/internal/callstack"
)

// BodyMethod names the synthetic tree entry holding the time a call spent
// outside of any nested profiled call.
const BodyMethod = "(body)"

var _ callstack.Recorder = (*ClassProfile)(nil)

type (
	flatRecord struct {
		method    string
		calls     uint64
		totalTime time.Duration
	}

	treeNode struct {
		method    string
		calls     uint64
		totalTime time.Duration
		children  []*treeNode
		index     map[string]*treeNode
	}

	// ClassProfile is safe for concurrent use.
	ClassProfile struct {
		name string

		mu        sync.RWMutex
		flat      []*flatRecord
		flatIndex map[string]*flatRecord
		// root is a virtual node whose children are the top level calls.
		root *treeNode
	}
)

func New(name string) *ClassProfile {
	return &ClassProfile{
		name:      name,
		flatIndex: make(map[string]*flatRecord),
		root:      newTreeNode(""),
	}
}

func newTreeNode(method string) *treeNode {
	return &treeNode{method: method}
}

func (n *treeNode) child(method string) *treeNode {
	if c, ok := n.index[method]; ok {
		return c
	}
	if n.index == nil {
		n.index = make(map[string]*treeNode)
	}
	c := newTreeNode(method)
	n.index[method] = c
	n.children = append(n.children, c)
	return c
}

func (p *ClassProfile) Name() string {
	return p.name
}

// Record adds one completed call of method to the flat table.
func (p *ClassProfile) Record(method string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(method, elapsed)
}

// RecordPath adds one completed call to the tree node identified by path,
// creating missing nodes along the way. An empty path records nothing.
func (p *ClassProfile) RecordPath(path []string, elapsed time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.recordPath(path, elapsed)
}

// Observe records a completed call in both the flat table and the tree
// under a single lock acquisition. The method is the last element of path.
func (p *ClassProfile) Observe(path []string, elapsed time.Duration) {
	if len(path) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record(path[len(path)-1], elapsed)
	p.recordPath(path, elapsed)
}

func (p *ClassProfile) record(method string, elapsed time.Duration) {
	r, ok := p.flatIndex[method]
	if !ok {
		r = &flatRecord{method: method}
		p.flatIndex[method] = r
		p.flat = append(p.flat, r)
	}
	r.calls++
	r.totalTime += elapsed
}

func (p *ClassProfile) recordPath(path []string, elapsed time.Duration) {
	if len(path) == 0 {
		return
	}
	n := p.root
	for _, method := range path {
		n = n.child(method)
	}
	n.calls++
	n.totalTime += elapsed
}

// Reset drops all statistics. The profile itself stays valid and is
// repopulated by calls completing afterwards.
func (p *ClassProfile) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flat = nil
	p.flatIndex = make(map[string]*flatRecord)
	p.root = newTreeNode("")
}

// Empty reports whether no call has been recorded since creation or the last
// reset.
func (p *ClassProfile) Empty() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.flat) == 0 && len(p.root.children) == 0
}
