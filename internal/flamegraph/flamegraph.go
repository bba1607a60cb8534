// Package flamegraph turns class call trees into speedscope profiles.
package flamegraph

import (
	"github.com/getsentry/proxyprof/internal/nodetree"
	"github.com/getsentry/proxyprof/internal/speedscope"
)

const exporter = "proxyprof"

type flamegraph struct {
	class       string
	frames      []speedscope.Frame
	framesIndex map[string]int
	samples     [][]int
	weights     []uint64
	endValue    uint64
}

// FromCallTree returns a sampled speedscope profile of class. Every call
// path becomes a sample weighted by the self time spent on it, so the
// widths of the flamegraph add up to the total time of the roots.
func FromCallTree(class string, roots []*nodetree.Node) speedscope.Output {
	f := &flamegraph{
		class:       class,
		frames:      make([]speedscope.Frame, 0),
		framesIndex: make(map[string]int),
		samples:     make([][]int, 0),
		weights:     make([]uint64, 0),
	}
	for _, root := range roots {
		stack := make([]int, 0, 8)
		f.visitCalltree(root, &stack)
	}

	profile := &speedscope.SampledProfile{
		EndValue: f.endValue,
		Name:     class,
		Samples:  f.samples,
		Type:     speedscope.ProfileTypeSampled,
		Unit:     speedscope.ValueUnitNanoseconds,
		Weights:  f.weights,
	}
	o := speedscope.Output{
		Schema:     speedscope.Schema,
		DurationNS: f.endValue,
		Exporter:   exporter,
		Name:       class,
		Profiles:   []interface{}{profile},
		Shared: speedscope.SharedData{
			Frames: f.frames,
		},
	}
	o.SortSamplesForFlamegraph()
	return o
}

func (f *flamegraph) frame(name string) int {
	if i, exists := f.framesIndex[name]; exists {
		return i
	}
	i := len(f.frames)
	f.framesIndex[name] = i
	f.frames = append(f.frames, speedscope.Frame{
		Image:         f.class,
		IsApplication: true,
		Name:          name,
	})
	return i
}

func (f *flamegraph) visitCalltree(node *nodetree.Node, currentStack *[]int) {
	*currentStack = append(*currentStack, f.frame(node.Name))

	for _, child := range node.Children {
		f.visitCalltree(child, currentStack)
	}
	// time not spent in children ends at this node
	if node.SelfDurationNS > 0 {
		f.addSample(currentStack, node.SelfDurationNS)
	}

	// pop last element before returning
	*currentStack = (*currentStack)[:len(*currentStack)-1]
}

func (f *flamegraph) addSample(stack *[]int, duration uint64) {
	cp := make([]int, len(*stack))
	copy(cp, *stack)
	f.samples = append(f.samples, cp)
	f.weights = append(f.weights, duration)
	f.endValue += duration
}
