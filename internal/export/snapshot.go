// Package export ships point-in-time copies of class profiles to storage
// buckets and Kafka topics.
package export

import (
	"time"

	"github.com/google/uuid"

	"github.com/getsentry/proxyprof/internal/classprofile"
	"github.com/getsentry/proxyprof/internal/nodetree"
)

type Snapshot struct {
	ID       string                  `json:"snapshot_id"`
	Class    string                  `json:"class"`
	TakenAt  int64                   `json:"taken_at"`
	Flat     []classprofile.FlatStat `json:"flat"`
	Tree     []classprofile.TreeStat `json:"tree"`
	CallTree []*nodetree.Node        `json:"call_tree"`
}

// TakeSnapshot copies the statistics of p. The flat and tree views are read
// one after the other, so calls completing in between may show in only one
// of them.
func TakeSnapshot(p *classprofile.ClassProfile, now time.Time) Snapshot {
	return Snapshot{
		ID:       uuid.New().String(),
		Class:    p.Name(),
		TakenAt:  now.Unix(),
		Flat:     p.FlatStats(),
		Tree:     p.TreeStats(),
		CallTree: p.Tree(),
	}
}

// StoragePath is where the snapshot is kept in a bucket, under prefix.
func (s Snapshot) StoragePath(prefix string) string {
	if prefix == "" {
		return s.Class + "/" + s.ID
	}
	return prefix + "/" + s.Class + "/" + s.ID
}
