// Package nodetree holds the nested representation of a class's call tree,
// the shape served over HTTP and written into exported snapshots.
package nodetree

import (
	"hash"
	"hash/fnv"
)

type (
	Node struct {
		Calls          uint64  `json:"calls"`
		DurationNS     uint64  `json:"duration_ns"`
		Fingerprint    uint64  `json:"fingerprint"`
		Name           string  `json:"name"`
		SelfDurationNS uint64  `json:"self_duration_ns"`
		Children       []*Node `json:"children,omitempty"`
	}
)

// NodeFromCall returns a childless node. parent is nil for roots; the
// fingerprint covers the whole call path so nodes at different positions in
// the tree never share one.
func NodeFromCall(parent *Node, name string, calls, durationNS uint64) *Node {
	n := Node{
		Calls:          calls,
		DurationNS:     durationNS,
		Name:           name,
		SelfDurationNS: durationNS,
	}
	h := fnv.New64a()
	if parent != nil {
		writeUint64(h, parent.Fingerprint)
	}
	n.WriteToHash(h)
	n.Fingerprint = h.Sum64()
	return &n
}

func (n *Node) WriteToHash(h hash.Hash) {
	if n.Name == "" {
		h.Write([]byte("-"))
	} else {
		h.Write([]byte(n.Name))
	}
}

// AddChild appends c and takes its duration out of the self duration.
func (n *Node) AddChild(c *Node) {
	n.Children = append(n.Children, c)
	if c.DurationNS >= n.SelfDurationNS {
		n.SelfDurationNS = 0
	} else {
		n.SelfDurationNS -= c.DurationNS
	}
}

// Walk visits n and its descendants depth first, parents before children.
func (n *Node) Walk(fn func(n *Node, depth int)) {
	n.walk(fn, 0)
}

func (n *Node) walk(fn func(n *Node, depth int), depth int) {
	fn(n, depth)
	for _, c := range n.Children {
		c.walk(fn, depth+1)
	}
}

// Find follows path through the children of n. An empty path returns n.
func (n *Node) Find(path ...string) *Node {
	current := n
	for _, name := range path {
		var next *Node
		for _, c := range current.Children {
			if c.Name == name {
				next = c
				break
			}
		}
		if next == nil {
			return nil
		}
		current = next
	}
	return current
}

// FindInForest looks path up in a forest of root nodes.
func FindInForest(roots []*Node, path ...string) *Node {
	if len(path) == 0 {
		return nil
	}
	for _, r := range roots {
		if r.Name == path[0] {
			return r.Find(path[1:]...)
		}
	}
	return nil
}

func writeUint64(h hash.Hash, v uint64) {
	var b [8]byte
	for i := range b {
		b[i] = byte(v >> (8 * i))
	}
	h.Write(b[:])
}
