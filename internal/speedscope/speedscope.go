// Package speedscope holds the file format of https://www.speedscope.app.
package speedscope

import (
	"sort"
)

const (
	Schema = "https://www.speedscope.app/file-format-schema.json"

	ValueUnitNanoseconds ValueUnit = "nanoseconds"
	ValueUnitCount       ValueUnit = "count"

	ProfileTypeSampled ProfileType = "sampled"
)

type (
	Frame struct {
		Image         string `json:"image,omitempty"`
		IsApplication bool   `json:"is_application"`
		Name          string `json:"name"`
	}

	SampledProfile struct {
		EndValue   uint64      `json:"endValue"`
		Name       string      `json:"name"`
		Samples    [][]int     `json:"samples"`
		StartValue uint64      `json:"startValue"`
		Type       ProfileType `json:"type"`
		Unit       ValueUnit   `json:"unit"`
		Weights    []uint64    `json:"weights"`
	}

	SharedData struct {
		Frames []Frame `json:"frames"`
	}

	ProfileType string
	ValueUnit   string

	Output struct {
		Schema             string        `json:"$schema"`
		ActiveProfileIndex int           `json:"activeProfileIndex"`
		DurationNS         uint64        `json:"durationNS"`
		Exporter           string        `json:"exporter"`
		Name               string        `json:"name"`
		Profiles           []interface{} `json:"profiles"`
		Shared             SharedData    `json:"shared"`
	}
)

// SortSamplesForFlamegraph orders the samples of sampled profiles by frame
// names so identical prefixes end up next to each other.
func (o *Output) SortSamplesForFlamegraph() {
	frames := o.Shared.Frames
	for _, p := range o.Profiles {
		if profile, ok := p.(*SampledProfile); ok {
			SortSamplesAlphabetically(profile.Samples, profile.Weights, frames)
		}
	}
}

// SortSamplesAlphabetically sorts samples, and the weights going with them,
// by comparing frame names from the root down. A stack sorts before the
// stacks it is a prefix of.
func SortSamplesAlphabetically(samples [][]int, weights []uint64, frames []Frame) {
	sort.Sort(&sampleSorter{frames: frames, samples: samples, weights: weights})
}

type sampleSorter struct {
	frames  []Frame
	samples [][]int
	weights []uint64
}

func (s *sampleSorter) Len() int {
	return len(s.samples)
}

func (s *sampleSorter) Less(i, j int) bool {
	a, b := s.samples[i], s.samples[j]
	for c := 0; ; c++ {
		if len(a) == c {
			return len(b) != c
		} else if len(b) == c {
			return false
		}
		if an, bn := s.frames[a[c]].Name, s.frames[b[c]].Name; an != bn {
			return an < bn
		}
	}
}

func (s *sampleSorter) Swap(i, j int) {
	s.samples[i], s.samples[j] = s.samples[j], s.samples[i]
	if s.weights != nil {
		s.weights[i], s.weights[j] = s.weights[j], s.weights[i]
	}
}
