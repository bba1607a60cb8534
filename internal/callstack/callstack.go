// Package callstack tracks the active method calls of an execution context
// and turns each completed call into an elapsed time and a call path.
//
// Every call is a Frame linked to the frame that encloses it. A
// context.Context carries the innermost frame of its branch, so goroutines
// started from inside a call each extend their own branch of the tree.
package callstack

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/getsentry/proxyprof/internal/errorutil"
	"github.com/getsentry/proxyprof/internal/timeutil"
)

// Recorder receives completed calls. path runs from the outermost active call
// of the same Recorder down to the call that just completed.
type Recorder interface {
	Observe(path []string, elapsed time.Duration)
}

type (
	// Frame is an in-progress call. It doubles as the handle returned by
	// Enter and used to exit the call. Only its counters change after Enter.
	Frame struct {
		method string
		owner  Recorder
		parent *Frame
		stack  *Stack
		start  time.Time

		childrenTime atomic.Int64
		exited       atomic.Bool
		nested       atomic.Int64
	}

	// CallEvent describes one completed call.
	CallEvent struct {
		Method   string        `json:"method"`
		Path     []string      `json:"path"`
		Start    time.Time     `json:"start"`
		End      time.Time     `json:"end"`
		Elapsed  time.Duration `json:"elapsed_ns"`
		SelfTime time.Duration `json:"self_time_ns"`
		// Depth is the number of enclosing calls of the same Recorder.
		Depth   int    `json:"depth"`
		StackID uint64 `json:"stack_id"`
	}

	// Stack is the root of an execution context. It holds the clock its calls
	// are timed with and never changes, so it may be shared freely.
	Stack struct {
		clock timeutil.Clock
		id    uint64
	}
)

var lastStackID atomic.Uint64

func (f *Frame) Method() string {
	return f.method
}

func (f *Frame) Start() time.Time {
	return f.start
}

// Parent returns the enclosing call, whatever its Recorder, or nil.
func (f *Frame) Parent() *Frame {
	return f.parent
}

// NewStack returns an empty stack. A nil clock means the system clock.
func NewStack(clock timeutil.Clock) *Stack {
	if clock == nil {
		clock = timeutil.System
	}
	return &Stack{clock: clock, id: lastStackID.Add(1)}
}

// ID identifies the stack among all stacks of the process.
func (s *Stack) ID() uint64 {
	return s.id
}

// Enter starts timing a call to method on behalf of owner. The call is nested
// in the innermost call carried by ctx if that call belongs to s. The
// returned context carries the new call and has to be used for the calls it
// encloses.
func (s *Stack) Enter(ctx context.Context, owner Recorder, method string) (context.Context, *Frame) {
	f := &Frame{
		method: method,
		owner:  owner,
		stack:  s,
	}
	if parent, ok := FrameFromContext(ctx); ok && parent.stack == s {
		f.parent = parent
		parent.nested.Add(1)
	}
	f.start = s.clock.Now()
	return context.WithValue(ctx, frameKey{}, f), f
}

// Exit completes the call and records it with its owner. A call can only be
// completed once, under the method it was entered with, after all the calls
// it encloses and before any call enclosing it. Otherwise the call is
// discarded, nothing is recorded and an error wrapping
// errorutil.ErrStackMismatch is returned. Calls nested in a discarded call
// are discarded as well when they exit.
func (f *Frame) Exit(method string) (CallEvent, error) {
	if f.exited.Swap(true) {
		return CallEvent{}, fmt.Errorf("callstack: %w: %q exited twice", errorutil.ErrStackMismatch, f.method)
	}
	if f.parent != nil {
		defer f.parent.nested.Add(-1)
	}
	if f.method != method {
		return CallEvent{}, fmt.Errorf("callstack: %w: frame for %q exited as %q", errorutil.ErrStackMismatch, f.method, method)
	}
	if n := f.nested.Load(); n > 0 {
		return CallEvent{}, fmt.Errorf("callstack: %w: exiting %q while %d nested calls are active", errorutil.ErrStackMismatch, f.method, n)
	}

	var (
		parent *Frame
		depth  int
	)
	for p := f.parent; p != nil; p = p.parent {
		if p.exited.Load() {
			return CallEvent{}, fmt.Errorf("callstack: %w: exiting %q after the enclosing %q", errorutil.ErrStackMismatch, f.method, p.method)
		}
		if p.owner != f.owner {
			continue
		}
		if parent == nil {
			parent = p
		}
		depth++
	}

	path := make([]string, depth+1)
	path[depth] = f.method
	i := depth - 1
	for p := f.parent; p != nil; p = p.parent {
		if p.owner == f.owner {
			path[i] = p.method
			i--
		}
	}

	end := f.stack.clock.Now()
	elapsed := end.Sub(f.start)
	if elapsed < 0 {
		elapsed = 0
	}

	if f.owner != nil {
		f.owner.Observe(path, elapsed)
	}
	if parent != nil {
		parent.childrenTime.Add(int64(elapsed))
	}

	// calls running in parallel can add up to more than the elapsed time
	self := elapsed - time.Duration(f.childrenTime.Load())
	if self < 0 {
		self = 0
	}
	return CallEvent{
		Method:   f.method,
		Path:     path,
		Start:    f.start,
		End:      end,
		Elapsed:  elapsed,
		SelfTime: self,
		Depth:    depth,
		StackID:  f.stack.id,
	}, nil
}

type (
	stackKey struct{}
	frameKey struct{}
)

// WithStack returns a context carrying s. Calls entered under s do not nest
// in calls of any other stack the context may carry.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// FromContext returns the stack carried by ctx, if any.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey{}).(*Stack)
	return s, ok && s != nil
}

// FrameFromContext returns the innermost call carried by ctx, if any.
func FrameFromContext(ctx context.Context) (*Frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*Frame)
	return f, ok && f != nil
}

// Fork returns a context carrying a fresh stack, starting a new execution
// context with no enclosing calls.
func Fork(ctx context.Context, clock timeutil.Clock) context.Context {
	return WithStack(ctx, NewStack(clock))
}
