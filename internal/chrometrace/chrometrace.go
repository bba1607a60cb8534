// Package chrometrace keeps the most recent proxied calls and renders them in
// the Chrome trace event format, readable by chrome://tracing and Perfetto.
package chrometrace

import (
	"sort"
	"sync"
	"time"

	"github.com/getsentry/proxyprof/internal/proxy"
)

const phaseComplete = "X"

type (
	Event struct {
		Args      map[string]string `json:"args,omitempty"`
		Category  string            `json:"cat"`
		Duration  float64           `json:"dur"`
		Name      string            `json:"name"`
		Phase     string            `json:"ph"`
		ProcessID int               `json:"pid"`
		ThreadID  uint64            `json:"tid"`
		Timestamp float64           `json:"ts"`
	}

	Trace struct {
		DisplayTimeUnit string  `json:"displayTimeUnit"`
		TraceEvents     []Event `json:"traceEvents"`
	}

	// Recorder keeps the last completed calls, up to its capacity.
	Recorder struct {
		mu     sync.Mutex
		events []proxy.Event
		next   int
		size   int
	}
)

var _ proxy.Observer = (*Recorder)(nil)

func NewRecorder(capacity int) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{events: make([]proxy.Event, capacity)}
}

func (r *Recorder) ObserveCall(e proxy.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.size < len(r.events) {
		r.size++
	}
}

// Trace returns the recorded calls of class, or of every class when class is
// empty, ordered by start time. Calls of one execution context share a
// thread ID so nested calls render as nested slices.
func (r *Recorder) Trace(class string) Trace {
	r.mu.Lock()
	events := make([]proxy.Event, 0, r.size)
	start := (r.next - r.size + len(r.events)) % len(r.events)
	for i := 0; i < r.size; i++ {
		e := r.events[(start+i)%len(r.events)]
		if class == "" || e.Class == class {
			events = append(events, e)
		}
	}
	r.mu.Unlock()

	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Start.Equal(events[j].Start) {
			return events[i].Start.Before(events[j].Start)
		}
		// outer calls first when they start together
		return events[i].Depth < events[j].Depth
	})

	t := Trace{
		DisplayTimeUnit: "ms",
		TraceEvents:     make([]Event, 0, len(events)),
	}
	for _, e := range events {
		ev := Event{
			Category:  e.Class,
			Duration:  microseconds(e.Elapsed),
			Name:      e.Class + "." + e.Method,
			Phase:     phaseComplete,
			ProcessID: 1,
			ThreadID:  e.StackID,
			Timestamp: float64(e.Start.UnixNano()) / 1e3,
		}
		if e.Outcome != proxy.OutcomeOK {
			ev.Args = map[string]string{"outcome": string(e.Outcome)}
			if e.Err != nil {
				ev.Args["error"] = e.Err.Error()
			}
		}
		t.TraceEvents = append(t.TraceEvents, ev)
	}
	return t
}

func microseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Microsecond)
}
